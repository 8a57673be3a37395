package tune

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// Governor lead thresholds, in seconds of effective (rate-adjusted)
// buffered audio.
const (
	// AmpleLeadSec relaxes concurrency toward 1: the buffer is deep
	// enough that synthesis can idle down.
	AmpleLeadSec = 45.0

	// TightLeadSec escalates concurrency: the buffer is shrinking
	// toward audible trouble.
	TightLeadSec = 15.0

	// CriticalLeadSec is near-underrun. Escalation to the calibrated
	// maximum happens immediately, cooldown or not.
	CriticalLeadSec = 5.0
)

// DefaultGovernorCooldown spaces concurrency changes so the governor
// cannot flap on a noisy lead signal.
const DefaultGovernorCooldown = 5 * time.Second

// ConcurrencyTarget is what the governor steers. *synth.Coordinator
// satisfies it.
type ConcurrencyTarget interface {
	SetConcurrency(n int)
	Concurrency() int
}

// GovernorConfig overrides the default thresholds.
type GovernorConfig struct {
	AmpleLeadSec    float64
	TightLeadSec    float64
	CriticalLeadSec float64
	Cooldown        time.Duration
}

// Governor adjusts synthesis concurrency from buffered lead time:
// plenty of lead relaxes toward 1 to save battery, shrinking lead
// escalates toward the calibrated maximum. Changes are spaced by a
// cooldown except when the buffer is nearly empty.
type Governor struct {
	target  ConcurrencyTarget
	cfg     GovernorConfig
	limiter *rate.Limiter

	mu  sync.Mutex
	max int
}

// NewGovernor returns a governor steering target, never exceeding the
// calibrated max level.
func NewGovernor(target ConcurrencyTarget, max int, cfg GovernorConfig) *Governor {
	if cfg.AmpleLeadSec == 0 {
		cfg.AmpleLeadSec = AmpleLeadSec
	}
	if cfg.TightLeadSec == 0 {
		cfg.TightLeadSec = TightLeadSec
	}
	if cfg.CriticalLeadSec == 0 {
		cfg.CriticalLeadSec = CriticalLeadSec
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultGovernorCooldown
	}
	if max < 1 {
		max = 1
	}
	return &Governor{
		target:  target,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
		max:     max,
	}
}

// SetMax updates the calibrated ceiling, clamping the current level
// down if needed.
func (g *Governor) SetMax(max int) {
	if max < 1 {
		max = 1
	}
	g.mu.Lock()
	g.max = max
	g.mu.Unlock()
	if cur := g.target.Concurrency(); cur > max {
		g.target.SetConcurrency(max)
	}
}

// Max returns the current ceiling.
func (g *Governor) Max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

// Observe feeds the governor one measurement: seconds of ready audio
// ahead of the playhead, and the current playback rate. Lead is
// divided by the rate because audio at 2x drains twice as fast.
func (g *Governor) Observe(leadSeconds, playbackRate float64) {
	if playbackRate <= 0 {
		playbackRate = ttypes.CanonicalRate
	}
	effective := leadSeconds / playbackRate

	g.mu.Lock()
	max := g.max
	g.mu.Unlock()
	cur := g.target.Concurrency()

	switch {
	case effective < g.cfg.CriticalLeadSec:
		// Near-underrun overrides the cooldown entirely.
		if cur < max {
			log.Debug("governor: critical lead, escalating to max",
				"lead_s", leadSeconds, "effective_s", effective, "to", max)
			g.target.SetConcurrency(max)
		}
	case effective < g.cfg.TightLeadSec:
		if cur < max && g.limiter.Allow() {
			log.Debug("governor: tight lead, escalating",
				"lead_s", leadSeconds, "effective_s", effective, "to", cur+1)
			g.target.SetConcurrency(cur + 1)
		}
	case effective > g.cfg.AmpleLeadSec:
		if cur > 1 && g.limiter.Allow() {
			log.Debug("governor: ample lead, relaxing",
				"lead_s", leadSeconds, "effective_s", effective, "to", cur-1)
			g.target.SetConcurrency(cur - 1)
		}
	}
}
