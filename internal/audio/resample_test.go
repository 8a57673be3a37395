package audio

import (
	"testing"
	"time"
)

func TestScaleRate(t *testing.T) {
	const rate = 22050
	oneSecond := makeTone(rate, 0.5)

	tests := []struct {
		name string
		rate float64
		want time.Duration
	}{
		{"double speed halves duration", 2.0, 500 * time.Millisecond},
		{"half speed doubles duration", 0.5, 2 * time.Second},
		{"unit rate unchanged", 1.0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ScaleRate(oneSecond, tt.rate)
			got := Duration(out, rate)
			tolerance := 5 * time.Millisecond
			if got < tt.want-tolerance || got > tt.want+tolerance {
				t.Errorf("duration after ScaleRate(%v) = %v, want ~%v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestResample(t *testing.T) {
	src := makeTone(22050, 0.5) // 1s at 22050

	out := Resample(src, 22050, 44100)
	if got := Duration(out, 44100); got < 990*time.Millisecond || got > 1010*time.Millisecond {
		t.Errorf("resampled duration = %v, want ~1s", got)
	}

	// Same rate is a pass-through.
	if same := Resample(src, 22050, 22050); len(same) != len(src) {
		t.Error("same-rate resample changed length")
	}
}

func TestStretchPreservesAmplitudeEnvelope(t *testing.T) {
	// A constant signal must stay constant through interpolation.
	samples := make([]int16, 1000)
	for i := range samples {
		samples[i] = 12000
	}
	out := stretch(makePCM(samples), 1.7)
	for i := 0; i < len(out)/BytesPerSample; i++ {
		if v := sampleAt(out, i); v != 12000 {
			t.Fatalf("sample %d = %d, want 12000", i, v)
		}
	}
}

func TestStretchTinyInputs(t *testing.T) {
	if out := stretch(nil, 2.0); len(out) != 0 {
		t.Error("stretch(nil) produced samples")
	}
	one := makePCM([]int16{5000})
	if out := stretch(one, 0.25); len(out) < BytesPerSample {
		t.Error("stretch collapsed single sample to nothing")
	}
}
