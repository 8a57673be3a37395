package guard

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/cache"
	"github.com/dgnsrekt/chaptervoice/internal/prefetch"
	"github.com/dgnsrekt/chaptervoice/internal/synth"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

const (
	// DefaultSampleInterval is how often memory is probed.
	DefaultSampleInterval = 2 * time.Second

	// DefaultModerateFrac is the used-memory fraction where restraint
	// starts.
	DefaultModerateFrac = 0.80

	// DefaultCriticalFrac is the used-memory fraction where new
	// synthesis starts are held.
	DefaultCriticalFrac = 0.92

	// DefaultRecoveryDelay is how long samples must stay calm before
	// pressure steps back down. Escalation is immediate; recovery is
	// not, so a hovering reading cannot flap the window.
	DefaultRecoveryDelay = 5 * time.Second

	// DefaultModerateTrim is the cache fraction kept at moderate
	// pressure.
	DefaultModerateTrim = 0.5

	// DefaultCriticalTrim is the cache fraction kept at critical
	// pressure.
	DefaultCriticalTrim = 0.25
)

// Sampler reports the used fraction of system memory. ok is false when
// the platform cannot provide one.
type Sampler func() (usedFrac float64, ok bool)

// MemoryConfig configures a MemoryMonitor. Zero values take the
// defaults above.
type MemoryConfig struct {
	SampleInterval time.Duration
	ModerateFrac   float64
	CriticalFrac   float64
	RecoveryDelay  time.Duration
	ModerateTrim   float64
	CriticalTrim   float64

	// Sampler overrides the platform probe. Tests inject readings
	// here.
	Sampler Sampler
}

// MemoryMonitor samples memory and walks the synthesis pipeline up and
// down the pressure ladder. Moderate shrinks the prefetch window and
// trims the cache; critical additionally holds new synthesis starts
// while in-flight work finishes.
type MemoryMonitor struct {
	cfg   MemoryConfig
	sched *prefetch.Scheduler
	coord *synth.Coordinator
	store *cache.Store

	mu        sync.Mutex
	level     ttypes.PressureLevel
	calmSince time.Time
	started   bool
	closed    bool
	done      chan struct{}
}

// NewMemoryMonitor wires a monitor to the scheduler, coordinator, and
// cache. Any of the three may be nil and is then skipped. The monitor
// is inert until Start.
func NewMemoryMonitor(sched *prefetch.Scheduler, coord *synth.Coordinator, store *cache.Store, cfg MemoryConfig) *MemoryMonitor {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.ModerateFrac <= 0 {
		cfg.ModerateFrac = DefaultModerateFrac
	}
	if cfg.CriticalFrac <= cfg.ModerateFrac {
		cfg.CriticalFrac = DefaultCriticalFrac
	}
	if cfg.RecoveryDelay <= 0 {
		cfg.RecoveryDelay = DefaultRecoveryDelay
	}
	if cfg.ModerateTrim <= 0 {
		cfg.ModerateTrim = DefaultModerateTrim
	}
	if cfg.CriticalTrim <= 0 {
		cfg.CriticalTrim = DefaultCriticalTrim
	}
	if cfg.Sampler == nil {
		cfg.Sampler = defaultSampler
	}
	return &MemoryMonitor{
		cfg:   cfg,
		sched: sched,
		coord: coord,
		store: store,
		done:  make(chan struct{}),
	}
}

// Start begins sampling. Calling it twice is a no-op.
func (m *MemoryMonitor) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.run()
}

// Level returns the current pressure level.
func (m *MemoryMonitor) Level() ttypes.PressureLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Inject applies an external pressure signal immediately, bypassing
// sampling and the recovery delay. The next samples take over again
// from the injected level.
func (m *MemoryMonitor) Inject(level ttypes.PressureLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || level == m.level {
		return
	}
	m.calmSince = time.Time{}
	m.applyLocked(level, -1)
}

// Close stops sampling. Pressure already applied stays applied; the
// caller decides whether to release holds on shutdown.
func (m *MemoryMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}

func (m *MemoryMonitor) run() {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
		frac, ok := m.cfg.Sampler()
		if !ok {
			continue
		}
		m.observe(frac)
	}
}

func (m *MemoryMonitor) observe(frac float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	target := m.bandOf(frac)
	switch {
	case target > m.level:
		m.calmSince = time.Time{}
		m.applyLocked(target, frac)
	case target < m.level:
		now := time.Now()
		if m.calmSince.IsZero() {
			m.calmSince = now
			return
		}
		if now.Sub(m.calmSince) >= m.cfg.RecoveryDelay {
			m.calmSince = time.Time{}
			m.applyLocked(target, frac)
		}
	default:
		m.calmSince = time.Time{}
	}
}

func (m *MemoryMonitor) bandOf(frac float64) ttypes.PressureLevel {
	switch {
	case frac >= m.cfg.CriticalFrac:
		return ttypes.PressureCritical
	case frac >= m.cfg.ModerateFrac:
		return ttypes.PressureModerate
	default:
		return ttypes.PressureNone
	}
}

func (m *MemoryMonitor) applyLocked(level ttypes.PressureLevel, frac float64) {
	prev := m.level
	m.level = level

	used := "injected"
	if frac >= 0 {
		used = fmt.Sprintf("%.0f%%", frac*100)
	}
	log.Info("memory pressure changed", "from", prev, "to", level, "used", used)

	if m.sched != nil {
		m.sched.SetPressure(level)
	}

	switch level {
	case ttypes.PressureCritical:
		if m.coord != nil {
			m.coord.HoldNewStarts()
		}
		if m.store != nil {
			n := m.store.TrimToFraction(m.cfg.CriticalTrim)
			log.Info("cache trimmed under critical pressure", "removed", n)
		}
	case ttypes.PressureModerate:
		if m.coord != nil && prev == ttypes.PressureCritical {
			m.coord.ReleaseStarts()
		}
		if m.store != nil && prev < level {
			n := m.store.TrimToFraction(m.cfg.ModerateTrim)
			log.Info("cache trimmed under moderate pressure", "removed", n)
		}
	case ttypes.PressureNone:
		if m.coord != nil && prev == ttypes.PressureCritical {
			m.coord.ReleaseStarts()
		}
	}
}

// defaultSampler blends the process heap with the platform's view of
// system memory, taking whichever is more pessimistic. Platforms
// without a system probe report not-ok, leaving the monitor to act
// only on injected signals.
func defaultSampler() (float64, bool) {
	total, avail, ok := sysMemory()
	if !ok || total == 0 {
		return 0, false
	}
	sysUsed := 1 - float64(avail)/float64(total)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapFrac := float64(ms.HeapInuse) / float64(total)

	if heapFrac > sysUsed {
		return heapFrac, true
	}
	return sysUsed, true
}
