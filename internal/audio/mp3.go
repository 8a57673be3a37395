package audio

import (
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream into mono 16-bit PCM. The decoder
// always emits 16-bit interleaved stereo, so the result is downmixed.
// Used for engines whose transport replies with compressed audio.
func DecodeMP3(r io.Reader) ([]byte, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}

	stereo, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("read mp3 samples: %w", err)
	}

	return DownmixStereo(stereo), dec.SampleRate(), nil
}
