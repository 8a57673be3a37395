package audio

import (
	"fmt"
	"io"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// wavFormatPCM is the RIFF audio format tag for uncompressed PCM.
const wavFormatPCM = 1

// EncodeWAV wraps mono 16-bit PCM in a WAV container. The encoder
// needs an io.WriteSeeker to finalize headers, so encoding goes
// through an in-memory filesystem rather than a plain buffer.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	pcm = EnsureEven(pcm)
	samples := len(pcm) / BytesPerSample

	intData := make([]int, samples)
	for i := 0; i < samples; i++ {
		intData[i] = int(sampleAt(pcm, i))
	}

	buf := &gaudio.IntBuffer{
		Data: intData,
		Format: &gaudio.Format{
			SampleRate:  sampleRate,
			NumChannels: 1,
		},
		SourceBitDepth: 16,
	}

	fs := afero.NewMemMapFs()
	const name = "encode.wav"
	f, err := fs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create in-memory wav: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close in-memory wav: %w", err)
	}

	out, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("read back wav: %w", err)
	}
	if len(out) == 0 && len(pcm) > 0 {
		return nil, fmt.Errorf("wav output empty for %d input bytes", len(pcm))
	}
	return out, nil
}

// DecodeWAV extracts mono 16-bit PCM and the sample rate from a WAV
// stream. Stereo input is downmixed.
func DecodeWAV(r io.ReadSeeker) ([]byte, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid wav stream")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.SourceBitDepth != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bit depth %d", buf.SourceBitDepth)
	}

	pcm := make([]byte, len(buf.Data)*BytesPerSample)
	for i, v := range buf.Data {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		putSample(pcm, i, int16(v))
	}

	if buf.Format.NumChannels == 2 {
		pcm = DownmixStereo(pcm)
	}

	return pcm, buf.Format.SampleRate, nil
}

// DecodeWAVFile reads a WAV file from disk into mono 16-bit PCM.
func DecodeWAVFile(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f)
}
