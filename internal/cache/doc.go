// Package cache implements the content-addressed audio store. Entries
// are WAV files keyed by a fingerprint of (voice, normalized text,
// rate), zstd-compressed at rest, indexed by a gob file that survives
// restarts, and evicted least-recently-used once the store exceeds its
// capacity. Absence of a key is the normal "needs synthesis" signal,
// never an error.
package cache
