// Package tune sizes the synthesis concurrency empirically and keeps
// it healthy at runtime.
//
// Devices differ enough that a static concurrency guess is wrong
// somewhere: small cores thrash at 2, big desktops idle at 1. The
// calibrator measures real throughput per level and picks the lowest
// concurrency that is fast enough. The governor then nudges the level
// during playback from buffered lead time, and the rollback ring
// restores the last known-good tuning when a change makes things
// worse.
package tune
