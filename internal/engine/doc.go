// Package engine provides the synthesis engine adapters and the registry
// that routes voices to them.
//
// The engine set is closed: piper and supertonic run as local subprocesses,
// kokoro talks to a local HTTP server, and mock exists for tests. Voice ids
// are namespaced ("piper:en_US-amy-medium"); the registry resolves them
// through a static table so routing never depends on runtime discovery.
package engine
