package prefetch

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/cache"
	"github.com/dgnsrekt/chaptervoice/internal/segment"
	"github.com/dgnsrekt/chaptervoice/internal/synth"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

const (
	// DefaultLowWatermarkSec is the buffered lead below which prefetch
	// resumes and works urgently.
	DefaultLowWatermarkSec = 10.0

	// DefaultHighWatermarkSec is the buffered lead above which prefetch
	// suspends. Both watermarks compare against rate-adjusted seconds.
	DefaultHighWatermarkSec = 60.0

	// DefaultAhead is the in-flight synthesis budget before pressure
	// and battery adjustments.
	DefaultAhead = 4

	// maxAhead caps the in-flight budget however the window is tuned.
	maxAhead = 8

	// batteryLowAhead is the in-flight ceiling on low battery.
	batteryLowAhead = 2

	// nearWindow is how many segments past the playhead enqueue at
	// normal rather than low priority.
	nearWindow = 2

	defaultPollInterval = 500 * time.Millisecond
	defaultRetryDelay   = 5 * time.Second
)

// Config configures a Scheduler. Zero values take the defaults above.
type Config struct {
	LowWatermarkSec  float64
	HighWatermarkSec float64
	Ahead            int
	PollInterval     time.Duration

	// RetryDelay holds a failed segment out of the queue so a broken
	// engine is not hammered in a tight loop.
	RetryDelay time.Duration

	// KeyWithRate switches to rate-dependent cache keys. Off by
	// default: synthesis happens at the canonical rate and the player
	// scales speed.
	KeyWithRate bool
}

// Stats is a snapshot of the scheduler's view of the buffer.
type Stats struct {
	Playhead    int
	Window      int
	Outstanding int
	LeadSeconds float64
	Suspended   bool
}

// Scheduler drives look-ahead synthesis for the current chapter.
// Playback owns the playhead and reports it through Advance; the
// scheduler owns everything after it.
type Scheduler struct {
	coord *synth.Coordinator
	cache ttypes.AudioCache
	cfg   Config

	mu        sync.Mutex
	voiceID   string
	rate      float64
	segments  []ttypes.Segment
	playhead  int
	ahead     int
	pressure  ttypes.PressureLevel
	battery   ttypes.BatteryState
	suspended bool
	tickets   map[ttypes.CacheKey]*synth.Ticket
	failedAt  map[ttypes.CacheKey]time.Time
	closed    bool

	kick chan struct{}
	done chan struct{}
}

// New starts a scheduler over the coordinator and cache. It idles
// until SetVoice and SetChapter arrive.
func New(coord *synth.Coordinator, store ttypes.AudioCache, cfg Config) *Scheduler {
	if cfg.LowWatermarkSec <= 0 {
		cfg.LowWatermarkSec = DefaultLowWatermarkSec
	}
	if cfg.HighWatermarkSec <= cfg.LowWatermarkSec {
		cfg.HighWatermarkSec = DefaultHighWatermarkSec
	}
	if cfg.Ahead <= 0 {
		cfg.Ahead = DefaultAhead
	}
	if cfg.Ahead > maxAhead {
		cfg.Ahead = maxAhead
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	s := &Scheduler{
		coord:    coord,
		cache:    store,
		cfg:      cfg,
		rate:     ttypes.CanonicalRate,
		ahead:    cfg.Ahead,
		tickets:  make(map[ttypes.CacheKey]*synth.Ticket),
		failedAt: make(map[ttypes.CacheKey]time.Time),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// SetVoice switches the voice used for look-ahead synthesis. Work in
// flight for the old voice is canceled; already cached audio stays.
func (s *Scheduler) SetVoice(voiceID string) {
	s.mu.Lock()
	if voiceID != s.voiceID {
		s.voiceID = voiceID
		s.cancelOutstandingLocked()
		s.suspended = false
	}
	s.mu.Unlock()
	s.kickEval()
}

// SetChapter replaces the segment list and resets the playhead.
// Outstanding synthesis for the previous chapter is canceled.
func (s *Scheduler) SetChapter(segments []ttypes.Segment, playhead int) {
	s.mu.Lock()
	s.cancelOutstandingLocked()
	s.segments = segments
	s.playhead = clampIndex(playhead, len(segments))
	s.suspended = false
	s.mu.Unlock()
	s.kickEval()
}

// Advance moves the playhead. Single-step progression keeps the window
// rolling; a seek outside the window restarts it at the new position.
func (s *Scheduler) Advance(playhead int) {
	s.mu.Lock()
	idx := clampIndex(playhead, len(s.segments))
	if idx < s.playhead || idx > s.playhead+s.ahead {
		s.cancelOutstandingLocked()
	}
	s.playhead = idx
	s.mu.Unlock()
	s.kickEval()
}

// SetRate records the playback rate the watermarks divide by. Under
// rate-dependent keying it also restarts the window, because every key
// changed.
func (s *Scheduler) SetRate(rate float64) {
	s.mu.Lock()
	rate = ttypes.ClampRate(rate)
	if rate != s.rate {
		s.rate = rate
		if s.cfg.KeyWithRate {
			s.cancelOutstandingLocked()
		}
		s.suspended = false
	}
	s.mu.Unlock()
	s.kickEval()
}

// SetPressure adjusts the window to a memory pressure level. Moderate
// halves the in-flight budget, critical stops new work entirely.
func (s *Scheduler) SetPressure(level ttypes.PressureLevel) {
	s.mu.Lock()
	if level != s.pressure {
		s.pressure = level
		log.Debug("prefetch pressure changed", "level", level)
	}
	s.mu.Unlock()
	s.kickEval()
}

// SetBattery adjusts the window to a battery state.
func (s *Scheduler) SetBattery(state ttypes.BatteryState) {
	s.mu.Lock()
	s.battery = state
	s.mu.Unlock()
	s.kickEval()
}

// SetRTF adapts the in-flight budget to measured synthesis speed. A
// fast engine refills the lead on demand; a slow one needs the window
// opened early and wide.
func (s *Scheduler) SetRTF(rtf float64) {
	s.mu.Lock()
	base := s.cfg.Ahead
	switch {
	case rtf <= 0:
		// Unknown; keep the configured budget.
	case rtf < 0.25:
		s.ahead = base / 2
		if s.ahead < 1 {
			s.ahead = 1
		}
	case rtf > 0.75:
		s.ahead = base * 2
		if s.ahead > maxAhead {
			s.ahead = maxAhead
		}
	default:
		s.ahead = base
	}
	s.mu.Unlock()
	s.kickEval()
}

// SetAhead pins the in-flight budget directly. Used by the auto-tune
// rollback when restoring a known-good snapshot.
func (s *Scheduler) SetAhead(n int) {
	if n < 1 {
		n = 1
	}
	if n > maxAhead {
		n = maxAhead
	}
	s.mu.Lock()
	s.ahead = n
	s.mu.Unlock()
	s.kickEval()
}

// Ahead returns the current in-flight budget before pressure and
// battery adjustments.
func (s *Scheduler) Ahead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ahead
}

// BufferedLeadSeconds returns how much consecutively ready audio sits
// after the playhead, in unscaled audio seconds.
func (s *Scheduler) BufferedLeadSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leadSecondsLocked()
}

// Stats returns a snapshot for logging and tuning.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Playhead:    s.playhead,
		Window:      s.effectiveAheadLocked(),
		Outstanding: len(s.tickets),
		LeadSeconds: s.leadSecondsLocked(),
		Suspended:   s.suspended,
	}
}

// Close cancels outstanding work and stops the scheduler.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancelOutstandingLocked()
	s.mu.Unlock()
	close(s.done)
	return nil
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
		case <-ticker.C:
		}
		s.mu.Lock()
		s.evaluateLocked()
		s.mu.Unlock()
	}
}

func (s *Scheduler) kickEval() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// evaluateLocked is the watermark loop body: sweep settled tickets,
// check the suspend band, then top the window up.
func (s *Scheduler) evaluateLocked() {
	if s.closed || s.voiceID == "" || len(s.segments) == 0 {
		return
	}
	s.sweepLocked()

	lead := s.leadSecondsLocked()
	effective := lead / s.rate

	if effective >= s.cfg.HighWatermarkSec {
		if !s.suspended {
			s.suspended = true
			log.Debug("prefetch suspended", "lead_sec", lead, "rate", s.rate)
		}
		return
	}
	// Hysteresis: once suspended, stay idle until the lead drains below
	// the low watermark instead of oscillating at the high one.
	if s.suspended && effective >= s.cfg.LowWatermarkSec {
		return
	}
	if s.suspended {
		s.suspended = false
		log.Debug("prefetch resumed", "lead_sec", lead, "rate", s.rate)
	}

	ahead := s.effectiveAheadLocked()
	if ahead <= 0 {
		return
	}

	// Walk forward enqueuing unready segments until the projected lead
	// clears the high watermark or the in-flight budget is spent.
	// In-flight and failed segments project their estimated duration so
	// the walk does not over-commit past the watermark.
	projected := lead
	for i := s.playhead + 1; i < len(s.segments); i++ {
		if projected/s.rate >= s.cfg.HighWatermarkSec {
			break
		}
		seg := s.segments[i]
		key := s.keyForLocked(seg)

		if dur, ok := s.cache.Duration(key); ok {
			projected += float64(dur) / 1000.0
			continue
		}
		if _, ok := s.tickets[key]; ok {
			projected += segment.EstimateDuration(seg.Text).Seconds()
			continue
		}
		if at, ok := s.failedAt[key]; ok {
			if time.Since(at) < s.cfg.RetryDelay {
				projected += segment.EstimateDuration(seg.Text).Seconds()
				continue
			}
			delete(s.failedAt, key)
		}
		if len(s.tickets) >= ahead {
			break
		}

		prio := ttypes.PriorityLow
		if i <= s.playhead+nearWindow {
			prio = ttypes.PriorityNormal
		}
		tk := s.coord.Enqueue(synth.Job{
			Key:      key,
			VoiceID:  s.voiceID,
			Text:     seg.Text,
			Rate:     s.synthRateLocked(),
			Priority: prio,
			Ref:      seg.Ref(),
		})
		s.tickets[key] = tk
		s.watch(tk)
		projected += segment.EstimateDuration(seg.Text).Seconds()
	}
}

// sweepLocked drops settled tickets and records failures for the retry
// delay. Cancellations are silent.
func (s *Scheduler) sweepLocked() {
	for key, tk := range s.tickets {
		select {
		case <-tk.Done():
			delete(s.tickets, key)
			if _, err := tk.Result(); err != nil && !ttypes.IsSilent(err) {
				s.failedAt[key] = time.Now()
				log.Debug("prefetch synthesis failed", "key", key, "err", err)
			}
		default:
		}
	}
}

// watch re-evaluates as soon as a ticket settles, so the window refills
// without waiting for the next poll tick.
func (s *Scheduler) watch(tk *synth.Ticket) {
	go func() {
		select {
		case <-tk.Done():
			s.kickEval()
		case <-s.done:
		}
	}()
}

func (s *Scheduler) cancelOutstandingLocked() {
	for key, tk := range s.tickets {
		tk.Cancel()
		delete(s.tickets, key)
	}
	for key := range s.failedAt {
		delete(s.failedAt, key)
	}
}

// leadSecondsLocked sums the durations of consecutively ready segments
// after the playhead. The first gap ends the lead: audio past a hole
// cannot be played without buffering through it.
func (s *Scheduler) leadSecondsLocked() float64 {
	lead := 0.0
	for i := s.playhead + 1; i < len(s.segments); i++ {
		dur, ok := s.cache.Duration(s.keyForLocked(s.segments[i]))
		if !ok {
			break
		}
		lead += float64(dur) / 1000.0
	}
	return lead
}

func (s *Scheduler) effectiveAheadLocked() int {
	ahead := s.ahead
	switch s.pressure {
	case ttypes.PressureModerate:
		ahead = ahead / 2
		if ahead < 1 {
			ahead = 1
		}
	case ttypes.PressureCritical:
		return 0
	}
	if s.battery == ttypes.BatteryLow && ahead > batteryLowAhead {
		ahead = batteryLowAhead
	}
	return ahead
}

func (s *Scheduler) keyForLocked(seg ttypes.Segment) ttypes.CacheKey {
	if s.cfg.KeyWithRate {
		return cache.SegmentKeyWithRate(s.voiceID, seg, s.rate)
	}
	return cache.SegmentKey(s.voiceID, seg)
}

func (s *Scheduler) synthRateLocked() float64 {
	if s.cfg.KeyWithRate {
		return s.rate
	}
	return ttypes.CanonicalRate
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if n > 0 && i >= n {
		return n - 1
	}
	return i
}
