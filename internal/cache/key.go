package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// KeyVersion prefixes every fingerprint so a format change invalidates
// old entries instead of colliding with them.
const KeyVersion = "v1"

// NormalizeText canonicalizes text for fingerprinting: NFC unicode
// normalization, whitespace runs collapsed to single spaces, ends
// trimmed. Two texts that read identically must fingerprint
// identically.
func NormalizeText(text string) string {
	text = norm.NFC.String(text)
	return strings.Join(strings.Fields(text), " ")
}

// Fingerprint computes the cache key for (voiceID, text, rate). Under
// the rate-independent policy callers pass ttypes.CanonicalRate; the
// player scales speed instead of the synthesizer.
func Fingerprint(voiceID, text string, rate float64) ttypes.CacheKey {
	payload := fmt.Sprintf("%s|%s|%.2f", voiceID, NormalizeText(text), rate)
	sum := sha256.Sum256([]byte(payload))
	return ttypes.CacheKey(fmt.Sprintf("%s_%s", KeyVersion, hex.EncodeToString(sum[:])))
}

// SegmentKey fingerprints a segment at the canonical rate. This is the
// default keying for all prefetch and playback lookups.
func SegmentKey(voiceID string, seg ttypes.Segment) ttypes.CacheKey {
	return Fingerprint(voiceID, seg.Text, ttypes.CanonicalRate)
}

// SegmentKeyWithRate fingerprints a segment at an explicit rate. Only
// the non-default rate-dependent keying mode uses this; it exists so
// the rate-change invalidation path stays exercisable.
func SegmentKeyWithRate(voiceID string, seg ttypes.Segment, rate float64) ttypes.CacheKey {
	return Fingerprint(voiceID, seg.Text, rate)
}
