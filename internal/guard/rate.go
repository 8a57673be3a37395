package guard

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// DefaultRateDebounce coalesces held-down rate keys before the change
// fans out.
const DefaultRateDebounce = 500 * time.Millisecond

// RateGuard debounces playback-rate changes so downstream consumers
// see only the settled value. Under rate-independent caching a rate
// change invalidates nothing; the fan-out is player speed plus the
// scheduler's rate-adjusted watermarks.
type RateGuard struct {
	debounce time.Duration
	apply    func(rate float64)

	mu      sync.Mutex
	current float64
	pending float64
	timer   *time.Timer
	armed   bool
	closed  bool
}

// NewRateGuard builds a guard settled at initial. apply runs on the
// debounce goroutine with the guard locked; it must not call back in.
func NewRateGuard(initial float64, debounce time.Duration, apply func(rate float64)) *RateGuard {
	if debounce <= 0 {
		debounce = DefaultRateDebounce
	}
	return &RateGuard{
		debounce: debounce,
		apply:    apply,
		current:  ttypes.ClampRate(initial),
	}
}

// Request asks for a new rate. The value is clamped; the fan-out waits
// until requests stop arriving for the debounce window.
func (g *RateGuard) Request(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.pending = ttypes.ClampRate(rate)
	if g.armed {
		g.timer.Reset(g.debounce)
		return
	}
	g.armed = true
	g.timer = time.AfterFunc(g.debounce, g.commit)
}

func (g *RateGuard) commit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed || g.closed {
		return
	}
	g.armed = false
	if g.pending == g.current {
		return
	}
	g.current = g.pending
	log.Debug("playback rate settled", "rate", g.current)
	if g.apply != nil {
		g.apply(g.current)
	}
}

// Current returns the last settled rate.
func (g *RateGuard) Current() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Close drops any pending change.
func (g *RateGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if g.armed {
		g.armed = false
		g.timer.Stop()
	}
}
