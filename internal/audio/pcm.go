package audio

import (
	"encoding/binary"
	"time"
)

const (
	// BytesPerSample for 16-bit PCM.
	BytesPerSample = 2

	// silenceThreshold is the absolute int16 amplitude below which a
	// sample counts as silence when trimming.
	silenceThreshold = 500

	// trimMarginMs of silence kept at each end so speech does not
	// start or stop abruptly.
	trimMarginMs = 20

	// peakTarget is the fraction of full scale peaks are normalized to.
	peakTarget = 0.8

	// maxGain bounds normalization so near-silent audio is not blown
	// up into noise.
	maxGain = 2.0
)

// Duration returns the playing time of mono 16-bit PCM at the given
// sample rate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// DurationMs returns the playing time in whole milliseconds.
func DurationMs(pcm []byte, sampleRate int) int64 {
	return Duration(pcm, sampleRate).Milliseconds()
}

// EnsureEven pads PCM to a whole number of 16-bit samples. Some engine
// streams deliver an odd trailing byte on early termination.
func EnsureEven(pcm []byte) []byte {
	if len(pcm)%BytesPerSample == 0 {
		return pcm
	}
	return append(pcm, 0)
}

// sampleAt reads the int16 sample at index i.
func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

// putSample writes the int16 sample at index i.
func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(v))
}

// TrimSilence removes leading and trailing silence, keeping a small
// margin at each end. Returns the input unchanged when it is entirely
// silent; cutting a segment to nothing would desync duration math.
func TrimSilence(pcm []byte, sampleRate int) []byte {
	pcm = EnsureEven(pcm)
	samples := len(pcm) / BytesPerSample
	if samples == 0 {
		return pcm
	}

	first := -1
	for i := 0; i < samples; i++ {
		if abs16(sampleAt(pcm, i)) > silenceThreshold {
			first = i
			break
		}
	}
	if first < 0 {
		return pcm
	}

	last := first
	for i := samples - 1; i >= first; i-- {
		if abs16(sampleAt(pcm, i)) > silenceThreshold {
			last = i
			break
		}
	}

	margin := sampleRate * trimMarginMs / 1000
	start := first - margin
	if start < 0 {
		start = 0
	}
	end := last + 1 + margin
	if end > samples {
		end = samples
	}

	return pcm[start*BytesPerSample : end*BytesPerSample]
}

// Normalize scales samples so the peak sits at peakTarget of full
// scale, with the gain capped at maxGain. Returns a new slice; the
// input is not modified.
func Normalize(pcm []byte) []byte {
	pcm = EnsureEven(pcm)
	samples := len(pcm) / BytesPerSample
	if samples == 0 {
		return pcm
	}

	var peak int16
	for i := 0; i < samples; i++ {
		if a := abs16(sampleAt(pcm, i)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return pcm
	}

	gain := peakTarget * 32767.0 / float64(peak)
	if gain > maxGain {
		gain = maxGain
	}

	out := make([]byte, len(pcm))
	for i := 0; i < samples; i++ {
		v := float64(sampleAt(pcm, i)) * gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		putSample(out, i, int16(v))
	}
	return out
}

// Condition applies the standard post-synthesis pipeline: silence trim
// then peak normalization. Cached audio goes through this once so
// loudness is uniform across engines.
func Condition(pcm []byte, sampleRate int) []byte {
	return Normalize(TrimSilence(pcm, sampleRate))
}

// DownmixStereo averages interleaved stereo 16-bit PCM into mono.
func DownmixStereo(pcm []byte) []byte {
	pcm = EnsureEven(pcm)
	frames := len(pcm) / (2 * BytesPerSample)
	out := make([]byte, frames*BytesPerSample)
	for i := 0; i < frames; i++ {
		l := int(sampleAt(pcm, 2*i))
		r := int(sampleAt(pcm, 2*i+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

func abs16(v int16) int16 {
	if v < 0 {
		if v == -32768 {
			return 32767
		}
		return -v
	}
	return v
}
