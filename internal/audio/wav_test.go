package audio

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeWAV(t *testing.T) {
	const rate = 22050
	src := makeTone(rate/2, 0.6)

	data, err := EncodeWAV(src, rate)
	if err != nil {
		t.Fatalf("EncodeWAV() error: %v", err)
	}
	if len(data) <= 44 {
		t.Fatalf("wav output suspiciously small: %d bytes", len(data))
	}

	pcm, gotRate, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeWAV() error: %v", err)
	}
	if gotRate != rate {
		t.Errorf("sample rate = %d, want %d", gotRate, rate)
	}
	if len(pcm) != len(src) {
		t.Fatalf("roundtrip length = %d, want %d", len(pcm), len(src))
	}
	for i := 0; i < len(src)/BytesPerSample; i++ {
		if sampleAt(pcm, i) != sampleAt(src, i) {
			t.Fatalf("sample %d differs after roundtrip", i)
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, _, err := DecodeWAV(bytes.NewReader([]byte("definitely not a wav file")))
	if err == nil {
		t.Fatal("DecodeWAV accepted garbage input")
	}
}

func TestEncodeWAVEmptyInput(t *testing.T) {
	data, err := EncodeWAV(nil, 22050)
	if err != nil {
		t.Fatalf("EncodeWAV(nil) error: %v", err)
	}
	// Header-only file decodes to zero samples.
	pcm, _, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode of empty wav failed: %v", err)
	}
	if len(pcm) != 0 {
		t.Errorf("empty encode decoded to %d bytes", len(pcm))
	}
}
