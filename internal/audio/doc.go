// Package audio provides the PCM toolkit and the audio output device
// layer: duration math, silence trimming, peak normalization, WAV and
// MP3 codec helpers, playback-rate resampling, and an oto-backed
// implementation of the AudioOutput contract plus a scriptable mock.
//
// All PCM in this package is 16-bit little-endian signed mono unless a
// function says otherwise.
package audio
