package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// MockOutput implements the AudioOutput contract without touching an
// audio device. Tests drive completion and failure explicitly, or let
// files auto-complete after a configured delay.
type MockOutput struct {
	events chan ttypes.OutputEvent

	mu      sync.Mutex
	playing bool
	paused  bool
	closed  bool
	current string
	rate    float64
	timer   *time.Timer

	// AutoComplete, when > 0, emits a completed event this long after
	// each PlayFile.
	AutoComplete time.Duration

	// FailPlay, when set, makes the next PlayFile return this error.
	FailPlay error

	// Callbacks for test hooks.
	OnPlayFile func(path string, rate float64)
	OnPause    func()
	OnStop     func()

	playCount  atomic.Int64
	pauseCount atomic.Int64
	stopCount  atomic.Int64

	playedPaths []string
}

// NewMockOutput returns a mock with a generous event buffer.
func NewMockOutput() *MockOutput {
	return &MockOutput{
		events: make(chan ttypes.OutputEvent, 32),
		rate:   1.0,
	}
}

// PlayFile records the call and begins a simulated playback.
func (m *MockOutput) PlayFile(path string, rate float64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("mock output closed")
	}
	if m.FailPlay != nil {
		err := m.FailPlay
		m.FailPlay = nil
		m.mu.Unlock()
		return err
	}
	m.stopTimerLocked()
	m.playing = true
	m.paused = false
	m.current = path
	m.rate = rate
	m.playedPaths = append(m.playedPaths, path)
	auto := m.AutoComplete
	m.mu.Unlock()

	m.playCount.Add(1)
	if m.OnPlayFile != nil {
		m.OnPlayFile(path, rate)
	}
	if auto > 0 {
		m.mu.Lock()
		m.timer = time.AfterFunc(auto, func() { m.CompleteCurrent() })
		m.mu.Unlock()
	}
	return nil
}

// CompleteCurrent emits a completed event for the file being played.
// No-op when nothing is playing.
func (m *MockOutput) CompleteCurrent() {
	m.mu.Lock()
	if !m.playing {
		m.mu.Unlock()
		return
	}
	m.playing = false
	m.current = ""
	m.mu.Unlock()
	m.events <- ttypes.OutputEvent{Kind: ttypes.OutputCompleted}
}

// FailCurrent emits an error event for the file being played.
func (m *MockOutput) FailCurrent(err error) {
	m.mu.Lock()
	m.playing = false
	m.current = ""
	m.mu.Unlock()
	m.events <- ttypes.OutputEvent{Kind: ttypes.OutputError, Err: err}
}

// Pause pauses the simulated playback.
func (m *MockOutput) Pause() error {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.pauseCount.Add(1)
	if m.OnPause != nil {
		m.OnPause()
	}
	return nil
}

// Resume resumes the simulated playback.
func (m *MockOutput) Resume() error {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	return nil
}

// Stop halts the simulation without emitting an event.
func (m *MockOutput) Stop() error {
	m.mu.Lock()
	m.stopTimerLocked()
	m.playing = false
	m.paused = false
	m.current = ""
	m.mu.Unlock()
	m.stopCount.Add(1)
	if m.OnStop != nil {
		m.OnStop()
	}
	return nil
}

// SetSpeed records the rate for inspection.
func (m *MockOutput) SetSpeed(rate float64) error {
	m.mu.Lock()
	m.rate = rate
	m.mu.Unlock()
	return nil
}

// Events returns the simulated event stream.
func (m *MockOutput) Events() <-chan ttypes.OutputEvent {
	return m.events
}

// Close shuts the mock down.
func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.stopTimerLocked()
	m.closed = true
	close(m.events)
	return nil
}

func (m *MockOutput) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Test inspection helpers

// IsPlaying reports whether a simulated file is active and unpaused.
func (m *MockOutput) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing && !m.paused
}

// Current returns the path of the file being played, if any.
func (m *MockOutput) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Rate returns the most recent playback rate.
func (m *MockOutput) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// PlayedPaths returns every path handed to PlayFile, in order.
func (m *MockOutput) PlayedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.playedPaths))
	copy(out, m.playedPaths)
	return out
}

// Counts returns play/pause/stop call counts.
func (m *MockOutput) Counts() (plays, pauses, stops int64) {
	return m.playCount.Load(), m.pauseCount.Load(), m.stopCount.Load()
}

var _ ttypes.AudioOutput = (*MockOutput)(nil)
