package cache

import (
	"strings"
	"testing"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("en_US-lessac-medium", "Hello there.", 1.0)
	b := Fingerprint("en_US-lessac-medium", "Hello there.", 1.0)
	if a != b {
		t.Errorf("same inputs produced different keys: %s vs %s", a, b)
	}
	if !strings.HasPrefix(string(a), KeyVersion+"_") {
		t.Errorf("key %s missing version prefix", a)
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint("voice-a", "Hello there.", 1.0)

	tests := []struct {
		name  string
		voice string
		text  string
		rate  float64
	}{
		{"different voice", "voice-b", "Hello there.", 1.0},
		{"different text", "voice-a", "Hello here.", 1.0},
		{"different rate", "voice-a", "Hello there.", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fingerprint(tt.voice, tt.text, tt.rate); got == base {
				t.Error("expected a distinct key")
			}
		})
	}
}

func TestFingerprintNormalization(t *testing.T) {
	// Whitespace runs and surrounding space never change the key.
	a := Fingerprint("v", "Hello   there.\n", 1.0)
	b := Fingerprint("v", " Hello there.", 1.0)
	if a != b {
		t.Error("whitespace variations produced different keys")
	}

	// Composed vs decomposed accents normalize to the same key.
	composed := Fingerprint("v", "café", 1.0)
	decomposed := Fingerprint("v", "café", 1.0)
	if composed != decomposed {
		t.Error("NFC-equivalent texts produced different keys")
	}
}

func TestSegmentKeyPinsCanonicalRate(t *testing.T) {
	seg := ttypes.Segment{BookID: "b", ChapterIndex: 0, SegmentIndex: 3, Text: "Some text."}

	def := SegmentKey("v", seg)
	canonical := SegmentKeyWithRate("v", seg, ttypes.CanonicalRate)
	if def != canonical {
		t.Error("SegmentKey must equal explicit canonical-rate key")
	}

	fast := SegmentKeyWithRate("v", seg, 2.0)
	if fast == def {
		t.Error("rate-dependent key must differ from canonical key")
	}
}
