// Package synth coordinates synthesis requests between the playback
// side and the engines.
//
// Every piece of audio is identified by its cache key. Requests for a
// key already in flight join the existing job instead of spawning a
// second engine call; each requester still gets its own operation id
// so cancellation stays per-requester. Jobs run under a resizable
// concurrency budget with higher-priority work dequeued first.
package synth
