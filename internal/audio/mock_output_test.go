package audio

import (
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

func TestMockOutputPlayAndComplete(t *testing.T) {
	m := NewMockOutput()
	defer m.Close()

	if err := m.PlayFile("/tmp/a.wav", 1.25); err != nil {
		t.Fatalf("PlayFile() error: %v", err)
	}
	if !m.IsPlaying() {
		t.Error("mock not playing after PlayFile")
	}
	if m.Rate() != 1.25 {
		t.Errorf("rate = %v, want 1.25", m.Rate())
	}

	m.CompleteCurrent()

	select {
	case ev := <-m.Events():
		if ev.Kind != ttypes.OutputCompleted {
			t.Errorf("event kind = %v, want completed", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}
	if m.IsPlaying() {
		t.Error("still playing after completion")
	}
}

func TestMockOutputAutoComplete(t *testing.T) {
	m := NewMockOutput()
	defer m.Close()
	m.AutoComplete = 20 * time.Millisecond

	if err := m.PlayFile("/tmp/a.wav", 1.0); err != nil {
		t.Fatalf("PlayFile() error: %v", err)
	}

	select {
	case ev := <-m.Events():
		if ev.Kind != ttypes.OutputCompleted {
			t.Errorf("event kind = %v, want completed", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("auto-complete never fired")
	}
}

func TestMockOutputFailure(t *testing.T) {
	m := NewMockOutput()
	defer m.Close()

	m.FailPlay = errors.New("device busy")
	if err := m.PlayFile("/tmp/a.wav", 1.0); err == nil {
		t.Fatal("expected injected play error")
	}
	// Failure is one-shot.
	if err := m.PlayFile("/tmp/b.wav", 1.0); err != nil {
		t.Fatalf("second PlayFile() error: %v", err)
	}

	m.FailCurrent(errors.New("underrun"))
	select {
	case ev := <-m.Events():
		if ev.Kind != ttypes.OutputError || ev.Err == nil {
			t.Errorf("event = %+v, want error event", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
}

func TestMockOutputStopSuppressesEvents(t *testing.T) {
	m := NewMockOutput()
	defer m.Close()

	if err := m.PlayFile("/tmp/a.wav", 1.0); err != nil {
		t.Fatalf("PlayFile() error: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	m.CompleteCurrent() // nothing playing; must not emit

	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event after stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	paths := m.PlayedPaths()
	if len(paths) != 1 || paths[0] != "/tmp/a.wav" {
		t.Errorf("played paths = %v", paths)
	}
}
