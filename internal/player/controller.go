package player

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/chaptervoice/internal/cache"
	"github.com/dgnsrekt/chaptervoice/internal/synth"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// DefaultSeekDebounce is how long rapid seek presses coalesce before
// one jump is committed.
const DefaultSeekDebounce = 200 * time.Millisecond

// Config configures a Controller.
type Config struct {
	// VoiceID selects the voice tracks resolve under.
	VoiceID string

	// Rate is the initial playback rate. Zero means CanonicalRate.
	Rate float64

	// KeyWithRate switches track resolution to rate-dependent cache
	// keys. Matches the scheduler's setting.
	KeyWithRate bool

	// SeekDebounce overrides DefaultSeekDebounce.
	SeekDebounce time.Duration

	// OnAdvance fires when the playhead settles on a track, so the
	// prefetch scheduler can follow. Called with the controller lock
	// held; it must not call back into the controller.
	OnAdvance func(index int)

	// OnChapterDone fires when the final track completes naturally.
	// Same locking rule as OnAdvance.
	OnChapterDone func()
}

// Controller runs the playback state machine against a synthesis
// coordinator and an audio output. All commands funnel through one
// lock: each event is applied, its effects executed, and any inline
// results fed back before the next snapshot is published. A cached
// track therefore goes from command to playing without an observable
// buffering state.
type Controller struct {
	coord  *synth.Coordinator
	output ttypes.AudioOutput

	mu        sync.Mutex
	cfg       Config
	state     State
	published State
	havePub   bool
	subs      []chan State

	// ticket is the outstanding resolve, if any. Watch goroutines
	// compare against it so a canceled or superseded resolve delivers
	// nothing.
	ticket *synth.Ticket

	// playingIndex is the track index handed to the output, -1 when
	// the output holds nothing. Completion events are attributed to
	// it.
	playingIndex int

	seekTimer *time.Timer
	seekArmed bool
	seekIndex int

	closed bool
}

// New builds a controller over the coordinator and output and starts
// consuming output events. Close releases it.
func New(coord *synth.Coordinator, output ttypes.AudioOutput, cfg Config) *Controller {
	if cfg.Rate == 0 {
		cfg.Rate = ttypes.CanonicalRate
	}
	cfg.Rate = ttypes.ClampRate(cfg.Rate)
	if cfg.SeekDebounce <= 0 {
		cfg.SeekDebounce = DefaultSeekDebounce
	}

	c := &Controller{
		coord:  coord,
		output: output,
		cfg:    cfg,
		state: State{
			Mode: ModeIdle,
			Rate: cfg.Rate,
		},
		playingIndex: -1,
	}
	go c.pump()
	return c
}

// LoadChapter replaces the queue. With autoPlay the first track starts
// as soon as its audio is verified.
func (c *Controller) LoadChapter(bookID string, tracks []ttypes.AudioTrack, startIndex int, autoPlay bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelSeekLocked()
	c.stepLocked(EvLoadChapter{
		BookID:     bookID,
		Tracks:     tracks,
		StartIndex: startIndex,
		AutoPlay:   autoPlay,
	})
}

// Play starts or resumes playback at the current track.
func (c *Controller) Play() { c.step(EvPlay{}) }

// Pause pauses playback. While buffering it withdraws the intent to
// play without discarding the resolve.
func (c *Controller) Pause() { c.step(EvPause{}) }

// TogglePlay flips between playing and paused.
func (c *Controller) TogglePlay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.state.IsPlaying || c.state.IsBuffering {
		c.stepLocked(EvPause{})
	} else {
		c.stepLocked(EvPlay{})
	}
}

// Stop disengages playback and clears the loaded track.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelSeekLocked()
	c.stepLocked(EvStop{})
}

// Next advances one track, overriding any pending seek.
func (c *Controller) Next() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelSeekLocked()
	c.stepLocked(EvNext{})
}

// Previous steps back one track, overriding any pending seek.
func (c *Controller) Previous() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelSeekLocked()
	c.stepLocked(EvPrevious{})
}

// Seek requests a jump to index. Rapid calls coalesce: only the last
// target within the debounce window reaches the output.
func (c *Controller) Seek(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state.Mode == ModeIdle {
		return
	}
	c.seekIndex = clampTrackIndex(index, len(c.state.Queue))
	if c.seekArmed {
		c.seekTimer.Reset(c.cfg.SeekDebounce)
		return
	}
	c.seekArmed = true
	c.seekTimer = time.AfterFunc(c.cfg.SeekDebounce, c.commitSeek)
}

func (c *Controller) commitSeek() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seekArmed || c.closed {
		return
	}
	c.seekArmed = false
	c.stepLocked(EvSeekCommit{Index: c.seekIndex})
}

func (c *Controller) cancelSeekLocked() {
	if c.seekArmed {
		c.seekArmed = false
		c.seekTimer.Stop()
	}
}

// Browse moves the viewing position without touching playback.
func (c *Controller) Browse(index int) { c.step(EvBrowse{Index: index}) }

// BrowseCommit jumps playback to the viewed track.
func (c *Controller) BrowseCommit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelSeekLocked()
	c.stepLocked(EvBrowseCommit{})
}

// BrowseClose abandons the viewing position.
func (c *Controller) BrowseClose() { c.step(EvBrowseClose{}) }

// SetRate changes the playback rate. Under rate-dependent keying the
// current track is re-resolved, since its audio no longer matches.
func (c *Controller) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	prev := c.state.Rate
	c.stepLocked(EvRateChange{Rate: rate})
	if c.cfg.KeyWithRate && c.state.Rate != prev {
		c.stepLocked(EvReload{})
	}
}

// SetVoice switches the resolution voice and re-resolves the current
// track under it.
func (c *Controller) SetVoice(voiceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || voiceID == "" || voiceID == c.cfg.VoiceID {
		return
	}
	log.Debug("player voice changed", "from", c.cfg.VoiceID, "to", voiceID)
	c.cfg.VoiceID = voiceID
	c.cancelSeekLocked()
	c.stepLocked(EvReload{})
}

// Reload re-resolves the current track under the present voice and
// keying.
func (c *Controller) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelSeekLocked()
	c.stepLocked(EvReload{})
}

// State returns a snapshot. The Queue slice is shared; callers must
// not mutate it.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel of state snapshots, seeded with the
// current one. Slow subscribers miss intermediate snapshots rather
// than stalling playback.
func (c *Controller) Subscribe() <-chan State {
	ch := make(chan State, 64)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	ch <- c.state
	c.mu.Unlock()
	return ch
}

// Close cancels any outstanding resolve and releases the output.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelSeekLocked()
	if c.ticket != nil {
		c.ticket.Cancel()
		c.ticket = nil
	}
	c.mu.Unlock()
	return c.output.Close()
}

func (c *Controller) step(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stepLocked(ev)
}

// stepLocked applies the event, runs the resulting effects, and feeds
// inline results back until the machine settles. One snapshot is
// published per call, so intermediate states never escape.
func (c *Controller) stepLocked(ev Event) {
	queue := []Event{ev}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		st, fx := Transition(c.state, next)
		c.state = st
		for _, f := range fx {
			queue = append(queue, c.applyLocked(f)...)
		}
	}
	c.publishLocked()
}

// applyLocked executes one effect, returning any events it produced
// synchronously.
func (c *Controller) applyLocked(f Effect) []Event {
	switch f := f.(type) {
	case FxResolve:
		return c.resolveLocked(f)
	case FxCancelResolve:
		if c.ticket != nil {
			c.ticket.Cancel()
			c.ticket = nil
		}
	case FxPlayFile:
		if err := c.output.PlayFile(f.Path, f.Rate); err != nil {
			log.Warn("playback start failed", "path", f.Path, "err", err)
			return []Event{EvOutputError{Err: err}}
		}
		c.playingIndex = c.state.Current
	case FxPause:
		if err := c.output.Pause(); err != nil {
			log.Warn("pause failed", "err", err)
		}
	case FxResume:
		if err := c.output.Resume(); err != nil {
			return []Event{EvOutputError{Err: err}}
		}
	case FxStop:
		c.playingIndex = -1
		if err := c.output.Stop(); err != nil {
			log.Warn("stop failed", "err", err)
		}
	case FxSetSpeed:
		if err := c.output.SetSpeed(f.Rate); err != nil {
			log.Warn("speed change failed", "rate", f.Rate, "err", err)
		}
	case FxPlayheadMoved:
		if c.cfg.OnAdvance != nil {
			c.cfg.OnAdvance(f.Index)
		}
	case FxChapterDone:
		log.Debug("chapter complete", "book", c.state.BookID)
		if c.cfg.OnChapterDone != nil {
			c.cfg.OnChapterDone()
		}
	}
	return nil
}

// resolveLocked enqueues a synthesis job for the track and either
// settles it inline, when the audio is already cached, or hands it to
// a watcher goroutine.
func (c *Controller) resolveLocked(f FxResolve) []Event {
	if f.Index < 0 || f.Index >= len(c.state.Queue) {
		return nil
	}
	seg := c.state.Queue[f.Index].Segment

	key := cache.SegmentKey(c.cfg.VoiceID, seg)
	rate := ttypes.CanonicalRate
	if c.cfg.KeyWithRate {
		key = cache.SegmentKeyWithRate(c.cfg.VoiceID, seg, c.state.Rate)
		rate = c.state.Rate
	}

	tk := c.coord.Enqueue(synth.Job{
		Key:      key,
		VoiceID:  c.cfg.VoiceID,
		Text:     seg.Text,
		Rate:     rate,
		Priority: ttypes.PriorityImmediate,
		Ref:      seg.Ref(),
	})
	c.ticket = tk

	select {
	case <-tk.Done():
		c.ticket = nil
		path, err := tk.Result()
		if err != nil {
			return []Event{EvTrackFailed{Epoch: f.Epoch, Index: f.Index, Err: err}}
		}
		return []Event{EvTrackReady{Epoch: f.Epoch, Index: f.Index, Path: path}}
	default:
	}

	go c.watchTicket(tk, f.Epoch, f.Index)
	return nil
}

func (c *Controller) watchTicket(tk *synth.Ticket, epoch uint64, index int) {
	<-tk.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.ticket != tk {
		return
	}
	c.ticket = nil
	path, err := tk.Result()
	if err != nil {
		c.stepLocked(EvTrackFailed{Epoch: epoch, Index: index, Err: err})
		return
	}
	c.stepLocked(EvTrackReady{Epoch: epoch, Index: index, Path: path})
}

// pump translates output events into machine events. The loop ends
// when the output closes its event channel.
func (c *Controller) pump() {
	for ev := range c.output.Events() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			continue
		}
		switch ev.Kind {
		case ttypes.OutputCompleted:
			idx := c.playingIndex
			c.playingIndex = -1
			if idx >= 0 {
				c.stepLocked(EvTrackDone{Index: idx})
			}
		case ttypes.OutputError:
			c.playingIndex = -1
			c.stepLocked(EvOutputError{Err: ev.Err})
		}
		c.mu.Unlock()
	}
}

func (c *Controller) publishLocked() {
	if c.havePub && sameSnapshot(c.state, c.published) {
		return
	}
	c.published = c.state
	c.havePub = true
	for _, ch := range c.subs {
		select {
		case ch <- c.state:
		default:
		}
	}
}

func sameSnapshot(a, b State) bool {
	return a.Mode == b.Mode &&
		a.IsPlaying == b.IsPlaying &&
		a.IsBuffering == b.IsBuffering &&
		a.Current == b.Current &&
		a.View == b.View &&
		a.Loaded == b.Loaded &&
		a.BookID == b.BookID &&
		a.Rate == b.Rate &&
		a.Err == b.Err &&
		a.Epoch == b.Epoch &&
		len(a.Queue) == len(b.Queue)
}
