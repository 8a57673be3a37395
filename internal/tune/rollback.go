package tune

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// snapshotRingSize bounds the tuning history. Five changes of context
// is as far back as a rollback ever needs to reach.
const snapshotRingSize = 5

// rollbackFailureRate forces a rollback regardless of baseline: a
// tuning under which every tenth request fails is wrong.
const rollbackFailureRate = 0.10

// rollbackUnderrunFactor forces a rollback when underruns exceed this
// multiple of the snapshot's baseline.
const rollbackUnderrunFactor = 1.5

// Snapshot captures one adopted tuning plus the health metrics
// observed when it was adopted. The metrics are the baseline the
// tuning is judged against later.
type Snapshot struct {
	Concurrency   int
	PrefetchAhead int
	TakenAt       time.Time
	FailureRate   float64
	UnderrunRate  float64 // underruns per minute
}

// TuningTarget is what a rollback restores. The coordinator and the
// prefetch scheduler together satisfy it through the host.
type TuningTarget interface {
	SetConcurrency(n int)
	SetAhead(n int)
}

// AutoTune keeps a ring of recent tuning snapshots and reverts to the
// previous one when the current tuning regresses. Changing concurrency
// or prefetch depth records a snapshot; evaluation compares live
// metrics against the newest snapshot's baseline.
type AutoTune struct {
	target TuningTarget

	mu    sync.Mutex
	snaps []Snapshot
}

// NewAutoTune returns an AutoTune steering the target.
func NewAutoTune(target TuningTarget) *AutoTune {
	return &AutoTune{target: target}
}

// Record stores a snapshot of newly adopted tuning. The oldest entry
// falls off once the ring is full.
func (a *AutoTune) Record(s Snapshot) {
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, s)
	if len(a.snaps) > snapshotRingSize {
		a.snaps = a.snaps[len(a.snaps)-snapshotRingSize:]
	}
}

// Len reports how many snapshots are held.
func (a *AutoTune) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.snaps)
}

// Latest returns the newest snapshot.
func (a *AutoTune) Latest() (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.snaps) == 0 {
		return Snapshot{}, false
	}
	return a.snaps[len(a.snaps)-1], true
}

// regressed reports whether live metrics are worse than the baseline
// captured with the tuning.
func regressed(baseline Snapshot, failureRate, underrunRate float64) bool {
	if failureRate > rollbackFailureRate {
		return true
	}
	return underrunRate > 0 && underrunRate > baseline.UnderrunRate*rollbackUnderrunFactor
}

// Evaluate compares live metrics against the newest snapshot. On
// regression it drops that snapshot and applies the previous one,
// returning the restored snapshot. With no older snapshot to return
// to, it applies a conservative single-threaded tuning.
func (a *AutoTune) Evaluate(failureRate, underrunRate float64) (Snapshot, bool) {
	a.mu.Lock()
	if len(a.snaps) == 0 {
		a.mu.Unlock()
		return Snapshot{}, false
	}
	current := a.snaps[len(a.snaps)-1]
	if !regressed(current, failureRate, underrunRate) {
		a.mu.Unlock()
		return Snapshot{}, false
	}

	a.snaps = a.snaps[:len(a.snaps)-1]
	var restore Snapshot
	if len(a.snaps) > 0 {
		restore = a.snaps[len(a.snaps)-1]
	} else {
		restore = Snapshot{
			Concurrency:   1,
			PrefetchAhead: current.PrefetchAhead,
			TakenAt:       time.Now(),
		}
		a.snaps = append(a.snaps, restore)
	}
	a.mu.Unlock()

	log.Warn("tuning regressed, rolling back",
		"failure_rate", failureRate,
		"underrun_rate", underrunRate,
		"baseline_underrun_rate", current.UnderrunRate,
		"restore_concurrency", restore.Concurrency,
		"restore_prefetch", restore.PrefetchAhead)
	a.target.SetConcurrency(restore.Concurrency)
	if restore.PrefetchAhead > 0 {
		a.target.SetAhead(restore.PrefetchAhead)
	}
	return restore, true
}
