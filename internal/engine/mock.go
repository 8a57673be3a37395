package engine

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// Mock is a deterministic in-memory engine for tests and dry runs. The
// same (voice, text) pair always yields the same PCM: a tone whose
// frequency derives from the text hash with duration proportional to
// word count. Delay and failure injection make the coordinator's
// ordering and error paths observable in tests.
type Mock struct {
	mu         sync.Mutex
	delay      time.Duration
	failWith   error
	failNext   int
	callCount  int
	canceled   map[string]bool
	readiness  map[string]ttypes.VoiceReadiness
	sampleRate int
	msPerWord  int
	closed     bool
}

// NewMock returns a mock engine where every voice is ready and
// synthesis is instant.
func NewMock() *Mock {
	return &Mock{
		canceled:   make(map[string]bool),
		readiness:  make(map[string]ttypes.VoiceReadiness),
		sampleRate: 22050,
		msPerWord:  80,
	}
}

// SetDelay makes each synthesis take d before returning.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetFailure makes every synthesis fail with err until cleared with a
// nil err.
func (m *Mock) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
	m.failNext = 0
}

// FailNext makes only the next n synthesis calls fail with err.
func (m *Mock) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
	m.failNext = n
}

// SetVoiceReadiness overrides readiness for one voice id.
func (m *Mock) SetVoiceReadiness(voiceID string, r ttypes.VoiceReadiness) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readiness[voiceID] = r
}

// CallCount reports how many synthesis calls have been made.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// WasCanceled reports whether CancelSynth was called for the op.
func (m *Mock) WasCanceled(opID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled[opID]
}

// Probe implements ttypes.SynthesisEngine.
func (m *Mock) Probe(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ttypes.ErrEngineNotAvailable
	}
	return nil
}

// EnsureCoreReady implements ttypes.SynthesisEngine.
func (m *Mock) EnsureCoreReady(context.Context, string) error { return nil }

// CheckVoiceReady implements ttypes.SynthesisEngine.
func (m *Mock) CheckVoiceReady(_ context.Context, voiceID string) (ttypes.VoiceReadiness, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.readiness[voiceID]; ok {
		return r, nil
	}
	return ttypes.VoiceReady, nil
}

// SynthesizeSegment implements ttypes.SynthesisEngine.
func (m *Mock) SynthesizeSegment(ctx context.Context, req ttypes.SynthesisRequest) (ttypes.SynthesisResult, error) {
	m.mu.Lock()
	m.callCount++
	delay := m.delay
	var failErr error
	if m.failWith != nil {
		if m.failNext > 0 {
			m.failNext--
			failErr = m.failWith
			if m.failNext == 0 {
				m.failWith = nil
			}
		} else {
			failErr = m.failWith
		}
	}
	sampleRate := m.sampleRate
	msPerWord := m.msPerWord
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ttypes.SynthesisResult{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return ttypes.SynthesisResult{}, err
	}
	if failErr != nil {
		return ttypes.SynthesisResult{}, failErr
	}

	pcm := tonePCM(req.Text, sampleRate, msPerWord)
	return ttypes.SynthesisResult{
		PCM:        pcm,
		SampleRate: sampleRate,
		DurationMs: audio.DurationMs(pcm, sampleRate),
	}, nil
}

// WarmUp implements ttypes.SynthesisEngine.
func (m *Mock) WarmUp(context.Context, string) bool { return true }

// CancelSynth implements ttypes.SynthesisEngine.
func (m *Mock) CancelSynth(opID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled[opID] = true
}

// Info implements ttypes.SynthesisEngine.
func (m *Mock) Info() ttypes.EngineInfo {
	return ttypes.EngineInfo{
		Name:        "mock",
		Version:     "1",
		SampleRate:  m.sampleRate,
		Channels:    1,
		BitDepth:    16,
		MaxTextSize: 10000,
		IsOnline:    false,
	}
}

// Close implements ttypes.SynthesisEngine.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// tonePCM renders a sine tone for the text: frequency from the text
// hash, length from the word count.
func tonePCM(text string, sampleRate, msPerWord int) []byte {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	freq := 200.0 + float64(h.Sum32()%600)

	samples := sampleRate * words * msPerWord / 1000
	if samples < 1 {
		samples = 1
	}
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*12000)))
	}
	return pcm
}

var _ ttypes.SynthesisEngine = (*Mock)(nil)
