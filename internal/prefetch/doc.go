// Package prefetch keeps synthesized audio ready ahead of playback.
//
// The scheduler watches the buffered lead between the playhead and the
// last consecutively ready segment and tops up the synthesis queue
// through the coordinator: below the low watermark it works urgently,
// above the high watermark it suspends until the lead drains back down.
// The in-flight window shrinks under memory pressure and on low
// battery, and everything is measured in rate-adjusted seconds so a 2x
// listener gets twice the audio buffered.
package prefetch
