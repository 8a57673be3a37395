package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// makePCM builds mono 16-bit PCM with the given samples.
func makePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// makeTone builds n samples of a loud sine wave.
func makeTone(n int, amplitude float64) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * 32767 * math.Sin(float64(i)/10))
	}
	return makePCM(samples)
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name       string
		samples    int
		sampleRate int
		want       time.Duration
	}{
		{"one second at 22050", 22050, 22050, time.Second},
		{"half second at 44100", 22050, 44100, 500 * time.Millisecond},
		{"empty", 0, 22050, 0},
		{"zero rate", 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, tt.samples*BytesPerSample)
			if got := Duration(pcm, tt.sampleRate); got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnsureEven(t *testing.T) {
	odd := []byte{1, 2, 3}
	got := EnsureEven(odd)
	if len(got)%2 != 0 {
		t.Errorf("EnsureEven() left odd length %d", len(got))
	}

	even := []byte{1, 2}
	if len(EnsureEven(even)) != 2 {
		t.Error("EnsureEven() modified already-even data")
	}
}

func TestTrimSilence(t *testing.T) {
	const rate = 22050

	t.Run("trims leading and trailing silence", func(t *testing.T) {
		silence := make([]int16, rate) // 1s of silence
		loud := make([]int16, rate)    // 1s of tone
		for i := range loud {
			loud[i] = 8000
		}

		var samples []int16
		samples = append(samples, silence...)
		samples = append(samples, loud...)
		samples = append(samples, silence...)

		trimmed := TrimSilence(makePCM(samples), rate)
		got := Duration(trimmed, rate)

		// 1s of speech plus up to 2 margins.
		margin := 2 * trimMarginMs * time.Millisecond
		if got < time.Second || got > time.Second+margin+10*time.Millisecond {
			t.Errorf("trimmed duration = %v, want ~1s", got)
		}
	})

	t.Run("all-silent input unchanged", func(t *testing.T) {
		pcm := make([]byte, 1000*BytesPerSample)
		if got := TrimSilence(pcm, rate); len(got) != len(pcm) {
			t.Errorf("all-silent trimmed to %d bytes, want %d", len(got), len(pcm))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := TrimSilence(nil, rate); len(got) != 0 {
			t.Errorf("TrimSilence(nil) = %d bytes", len(got))
		}
	})
}

func TestNormalize(t *testing.T) {
	t.Run("quiet audio gains up to cap", func(t *testing.T) {
		quiet := makePCM([]int16{1000, -1000, 500})
		out := Normalize(quiet)

		peak := int16(0)
		for i := 0; i < len(out)/BytesPerSample; i++ {
			if a := abs16(sampleAt(out, i)); a > peak {
				peak = a
			}
		}
		// Gain capped at 2x: peak 1000 -> 2000, not 0.8 * 32767.
		if peak != 2000 {
			t.Errorf("peak after normalize = %d, want 2000 (capped gain)", peak)
		}
	})

	t.Run("loud audio scaled toward target", func(t *testing.T) {
		loud := makePCM([]int16{32000, -32000})
		out := Normalize(loud)
		peak := abs16(sampleAt(out, 0))
		want := int16(math.Trunc(peakTarget * 32767))
		if peak < want-100 || peak > want+100 {
			t.Errorf("peak after normalize = %d, want ~%d", peak, want)
		}
	})

	t.Run("silence untouched", func(t *testing.T) {
		pcm := make([]byte, 10*BytesPerSample)
		out := Normalize(pcm)
		for i := range out {
			if out[i] != 0 {
				t.Fatal("normalize invented samples from silence")
			}
		}
	})
}

func TestDownmixStereo(t *testing.T) {
	// L=100 R=200 -> 150; L=-100 R=100 -> 0
	stereo := makePCM([]int16{100, 200, -100, 100})
	mono := DownmixStereo(stereo)

	if n := len(mono) / BytesPerSample; n != 2 {
		t.Fatalf("downmix produced %d samples, want 2", n)
	}
	if got := sampleAt(mono, 0); got != 150 {
		t.Errorf("frame 0 = %d, want 150", got)
	}
	if got := sampleAt(mono, 1); got != 0 {
		t.Errorf("frame 1 = %d, want 0", got)
	}
}

func TestCondition(t *testing.T) {
	const rate = 22050
	silence := make([]int16, rate/2)
	speech := make([]int16, rate)
	for i := range speech {
		speech[i] = 3000
	}
	var samples []int16
	samples = append(samples, silence...)
	samples = append(samples, speech...)

	out := Condition(makePCM(samples), rate)

	if Duration(out, rate) > 1100*time.Millisecond {
		t.Error("Condition did not trim leading silence")
	}
	peak := int16(0)
	for i := 0; i < len(out)/BytesPerSample; i++ {
		if a := abs16(sampleAt(out, i)); a > peak {
			peak = a
		}
	}
	if peak != 6000 { // 3000 * capped 2x gain
		t.Errorf("Condition peak = %d, want 6000", peak)
	}
}
