package tune

import (
	"sync"
	"testing"
	"time"
)

type fakeTarget struct {
	mu    sync.Mutex
	level int
	sets  []int
}

func (f *fakeTarget) SetConcurrency(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = n
	f.sets = append(f.sets, n)
}

func (f *fakeTarget) Concurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *fakeTarget) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets)
}

func TestGovernorCriticalBypassesCooldown(t *testing.T) {
	target := &fakeTarget{level: 1}
	g := NewGovernor(target, 3, GovernorConfig{Cooldown: time.Hour})

	g.Observe(2.0, 1.0)
	if target.Concurrency() != 3 {
		t.Fatalf("level = %d, want escalation to max", target.Concurrency())
	}

	// Drop it and starve again: still no cooldown in the way.
	target.SetConcurrency(1)
	g.Observe(1.0, 1.0)
	if target.Concurrency() != 3 {
		t.Errorf("second critical escalation blocked, level = %d", target.Concurrency())
	}
}

func TestGovernorTightLeadEscalatesStepwise(t *testing.T) {
	target := &fakeTarget{level: 1}
	g := NewGovernor(target, 3, GovernorConfig{Cooldown: 60 * time.Millisecond})

	g.Observe(10.0, 1.0)
	if target.Concurrency() != 2 {
		t.Fatalf("level = %d, want 2", target.Concurrency())
	}

	// Within the cooldown nothing more happens.
	g.Observe(10.0, 1.0)
	if target.Concurrency() != 2 {
		t.Errorf("cooldown ignored, level = %d", target.Concurrency())
	}

	time.Sleep(80 * time.Millisecond)
	g.Observe(10.0, 1.0)
	if target.Concurrency() != 3 {
		t.Errorf("level = %d, want 3 after cooldown", target.Concurrency())
	}

	// At max already; further tight observations are no-ops.
	time.Sleep(80 * time.Millisecond)
	before := target.setCount()
	g.Observe(10.0, 1.0)
	if target.setCount() != before {
		t.Error("escalated past max")
	}
}

func TestGovernorAmpleLeadRelaxes(t *testing.T) {
	target := &fakeTarget{level: 3}
	g := NewGovernor(target, 3, GovernorConfig{Cooldown: 40 * time.Millisecond})

	g.Observe(90.0, 1.0)
	if target.Concurrency() != 2 {
		t.Fatalf("level = %d, want 2", target.Concurrency())
	}
	time.Sleep(60 * time.Millisecond)
	g.Observe(90.0, 1.0)
	if target.Concurrency() != 1 {
		t.Errorf("level = %d, want 1", target.Concurrency())
	}
	// Never below 1.
	time.Sleep(60 * time.Millisecond)
	g.Observe(90.0, 1.0)
	if target.Concurrency() != 1 {
		t.Errorf("level = %d, dropped below 1", target.Concurrency())
	}
}

func TestGovernorComfortBandHolds(t *testing.T) {
	target := &fakeTarget{level: 2}
	g := NewGovernor(target, 3, GovernorConfig{Cooldown: time.Millisecond})

	for i := 0; i < 5; i++ {
		g.Observe(30.0, 1.0)
	}
	if target.setCount() != 0 {
		t.Errorf("governor changed level %d times inside the comfort band", target.setCount())
	}
}

func TestGovernorAdjustsForPlaybackRate(t *testing.T) {
	// 20 seconds of buffer is comfortable at 1x but tight at 2x.
	target := &fakeTarget{level: 1}
	g := NewGovernor(target, 3, GovernorConfig{Cooldown: time.Millisecond})

	g.Observe(20.0, 1.0)
	if target.setCount() != 0 {
		t.Fatal("20s at 1x should be comfortable")
	}

	g.Observe(20.0, 2.0)
	if target.Concurrency() != 2 {
		t.Errorf("level = %d, want escalation at 2x", target.Concurrency())
	}
}

func TestGovernorSetMaxClampsDown(t *testing.T) {
	target := &fakeTarget{level: 3}
	g := NewGovernor(target, 3, GovernorConfig{})

	g.SetMax(2)
	if target.Concurrency() != 2 {
		t.Errorf("level = %d, want clamped to new max", target.Concurrency())
	}
	if g.Max() != 2 {
		t.Errorf("max = %d", g.Max())
	}
}
