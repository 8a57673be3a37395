package guard

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/engine"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// VoiceGuard serializes voice switches. A change holds until the new
// voice's engine core is up and its assets are confirmed present; only
// then does the switch fan out to the scheduler and player. Failure at
// any point leaves the previous voice fully in place.
type VoiceGuard struct {
	registry *engine.Registry
	apply    func(voiceID string)

	mu      sync.Mutex
	current string
	busy    bool
}

// NewVoiceGuard builds a guard with initial as the last-good voice.
// apply receives the confirmed voice id; it is where prefetch
// cancellation and current-segment re-resolution happen.
func NewVoiceGuard(reg *engine.Registry, initial string, apply func(voiceID string)) *VoiceGuard {
	return &VoiceGuard{registry: reg, apply: apply, current: initial}
}

// Change switches to voiceID. A second change while one is in flight
// is rejected with ttypes.ErrVoiceChangeInProgress rather than queued;
// retry once the first settles. Readiness is bounded by the registry's
// timeout, tightened by ctx.
func (g *VoiceGuard) Change(ctx context.Context, voiceID string) error {
	g.mu.Lock()
	if g.busy {
		g.mu.Unlock()
		return ttypes.ErrVoiceChangeInProgress
	}
	if voiceID == g.current {
		g.mu.Unlock()
		return nil
	}
	prev := g.current
	g.busy = true
	g.mu.Unlock()

	if err := g.registry.EnsureVoiceReady(ctx, voiceID); err != nil {
		g.mu.Lock()
		g.busy = false
		g.mu.Unlock()
		log.Warn("voice change failed, keeping previous voice",
			"voice", voiceID, "previous", prev, "error", err)
		return fmt.Errorf("switching to voice %q: %w", voiceID, err)
	}

	if g.apply != nil {
		g.apply(voiceID)
	}

	g.mu.Lock()
	g.current = voiceID
	g.busy = false
	g.mu.Unlock()
	log.Info("voice changed", "from", prev, "to", voiceID)
	return nil
}

// Current returns the active voice.
func (g *VoiceGuard) Current() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}
