package audio

// stretch resizes mono 16-bit PCM to factor times its sample count
// using linear interpolation.
func stretch(pcm []byte, factor float64) []byte {
	pcm = EnsureEven(pcm)
	in := len(pcm) / BytesPerSample
	if in == 0 || factor == 1.0 {
		return pcm
	}

	out := int(float64(in) * factor)
	if out < 1 {
		out = 1
	}

	res := make([]byte, out*BytesPerSample)
	step := float64(in-1) / float64(out-1)
	if out == 1 {
		step = 0
	}
	for i := 0; i < out; i++ {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		a := float64(sampleAt(pcm, j))
		b := a
		if j+1 < in {
			b = float64(sampleAt(pcm, j+1))
		}
		putSample(res, i, int16(a+(b-a)*frac))
	}
	return res
}

// Resample converts PCM from one sample rate to another.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}
	return stretch(pcm, float64(toRate)/float64(fromRate))
}

// ScaleRate time-compresses or stretches PCM for playback at the given
// rate: 2.0 halves the sample count so the same content plays in half
// the time. Pitch shifts along with tempo; acceptable for speech at
// the supported rate range.
func ScaleRate(pcm []byte, rate float64) []byte {
	if rate == 1.0 || rate <= 0 {
		return pcm
	}
	return stretch(pcm, 1.0/rate)
}
