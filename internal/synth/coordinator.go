package synth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/chaptervoice/internal/audio"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// MaxConcurrency is the hard ceiling on parallel engine calls. The
// calibrated profile picks a value at or below this.
const MaxConcurrency = 4

// defaultJobTimeout bounds one engine call end to end. Engines carry
// tighter per-request timeouts of their own; this is the backstop.
const defaultJobTimeout = 2 * time.Minute

// EngineResolver routes a voice id to a live engine. *engine.Registry
// satisfies it.
type EngineResolver interface {
	Resolve(voiceID string) (ttypes.SynthesisEngine, error)
}

// Job describes one unit of synthesis work. The requester computes the
// cache key; the coordinator treats it as opaque identity.
type Job struct {
	// Key identifies the audio content. Jobs with equal keys are
	// interchangeable and share one engine call.
	Key ttypes.CacheKey

	// VoiceID selects the engine and voice.
	VoiceID string

	// Text is the normalized text to synthesize.
	Text string

	// Rate is the synthesis-time rate, CanonicalRate under the default
	// policy.
	Rate float64

	// Priority orders the job against other waiting jobs.
	Priority ttypes.Priority

	// Ref is a human-readable reference for logs.
	Ref string
}

type pendingJob struct {
	job      Job
	fut      *future
	waiters  map[string]struct{}
	seq      uint64
	heapIdx  int
	started  bool
	canceled atomic.Bool
	engineOp string
	eng      ttypes.SynthesisEngine
	cancelFn context.CancelFunc
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	Enqueued    int64
	DedupJoins  int64
	CacheHits   int64
	EngineCalls int64
	Completed   int64
	Failures    int64
	Canceled    int64
	QueueLen    int
	Inflight    int
	Limit       int
	Held        bool
}

// FailureRate is the fraction of engine calls that failed. Zero when
// nothing ran yet.
func (s Stats) FailureRate() float64 {
	if s.EngineCalls == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.EngineCalls)
}

// Config configures a Coordinator.
type Config struct {
	// Concurrency is the initial parallel engine call budget,
	// clamped to [1, MaxConcurrency].
	Concurrency int

	// JobTimeout bounds a single job's engine call.
	JobTimeout time.Duration
}

// Coordinator owns the synthesis pipeline between requesters and
// engines: one job per cache key, priority-ordered dispatch, a
// resizable concurrency budget, and per-requester cancellation.
type Coordinator struct {
	cache    ttypes.AudioCache
	resolver EngineResolver
	timeout  time.Duration

	mu       sync.Mutex
	cond     *sync.Cond
	pending  map[ttypes.CacheKey]*pendingJob
	index    map[string]ttypes.CacheKey // opID -> key
	queue    jobQueue
	limit    int
	inflight int
	held     bool
	closed   bool

	baseCtx context.Context
	stop    context.CancelFunc

	enqueued    atomic.Int64
	dedupJoins  atomic.Int64
	cacheHits   atomic.Int64
	engineCalls atomic.Int64
	completed   atomic.Int64
	failures    atomic.Int64
	canceledOps atomic.Int64
}

// NewCoordinator starts a coordinator over the given cache and engine
// resolver.
func NewCoordinator(cache ttypes.AudioCache, resolver EngineResolver, cfg Config) *Coordinator {
	limit := cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	if limit > MaxConcurrency {
		limit = MaxConcurrency
	}
	timeout := cfg.JobTimeout
	if timeout == 0 {
		timeout = defaultJobTimeout
	}
	ctx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		cache:    cache,
		resolver: resolver,
		timeout:  timeout,
		pending:  make(map[ttypes.CacheKey]*pendingJob),
		index:    make(map[string]ttypes.CacheKey),
		limit:    limit,
		baseCtx:  ctx,
		stop:     stop,
	}
	c.cond = sync.NewCond(&c.mu)
	go c.dispatch()
	return c
}

// Enqueue submits a job and returns the requester's ticket. A job for
// a key already pending joins it; a key already in the cache settles
// immediately without touching the queue.
func (c *Coordinator) Enqueue(job Job) *Ticket {
	opID := uuid.New().String()
	c.enqueued.Add(1)

	// Fast path: audio already cached.
	if path, ok := c.cache.Path(job.Key); ok {
		c.cache.MarkUsed(job.Key)
		c.cacheHits.Add(1)
		f := newFuture()
		f.settle(path, nil)
		return &Ticket{OpID: opID, Key: job.Key, coord: c, fut: f}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		f := newFuture()
		f.settle("", ttypes.ErrCoordinatorClosed)
		return &Ticket{OpID: opID, Key: job.Key, coord: c, fut: f}
	}

	if p, ok := c.pending[job.Key]; ok && !p.canceled.Load() {
		p.waiters[opID] = struct{}{}
		c.index[opID] = job.Key
		c.dedupJoins.Add(1)
		// A more urgent duplicate promotes the shared job.
		if job.Priority > p.job.Priority {
			p.job.Priority = job.Priority
			if !p.started {
				c.queue.fix(p)
			}
		}
		return &Ticket{OpID: opID, Key: job.Key, coord: c, fut: p.fut}
	}

	p := &pendingJob{
		job:     job,
		fut:     newFuture(),
		waiters: map[string]struct{}{opID: {}},
		heapIdx: -1,
	}
	c.pending[job.Key] = p
	c.index[opID] = job.Key
	c.queue.push(p)
	c.cond.Broadcast()
	return &Ticket{OpID: opID, Key: job.Key, coord: c, fut: p.fut}
}

// Cancel withdraws one requester's interest. The engine call is
// stopped only when the last interested requester cancels; canceling
// an unknown or already-canceled op is a no-op.
func (c *Coordinator) Cancel(opID string) {
	c.mu.Lock()
	key, ok := c.index[opID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.index, opID)
	p := c.pending[key]
	if p == nil {
		c.mu.Unlock()
		return
	}
	delete(p.waiters, opID)
	if len(p.waiters) > 0 {
		c.mu.Unlock()
		return
	}

	p.canceled.Store(true)
	c.canceledOps.Add(1)
	started := p.started
	if !started {
		c.queue.remove(p)
		delete(c.pending, key)
	}
	eng, engineOp, cancelFn := p.eng, p.engineOp, p.cancelFn
	ref := p.job.Ref
	p.fut.settle("", ttypes.ErrCanceled)
	c.cond.Broadcast()
	c.mu.Unlock()

	if eng != nil {
		eng.CancelSynth(engineOp)
	}
	if cancelFn != nil {
		cancelFn()
	}
	log.Debug("synthesis canceled", "key", key, "ref", ref, "started", started)
}

// CancelAll withdraws every requester and stops every job. Used on
// chapter switch and shutdown.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	type stopTarget struct {
		eng      ttypes.SynthesisEngine
		engineOp string
		cancelFn context.CancelFunc
	}
	var stops []stopTarget
	for key, p := range c.pending {
		p.canceled.Store(true)
		for op := range p.waiters {
			delete(c.index, op)
		}
		p.waiters = make(map[string]struct{})
		p.fut.settle("", ttypes.ErrCanceled)
		if !p.started {
			c.queue.remove(p)
			delete(c.pending, key)
		} else {
			stops = append(stops, stopTarget{p.eng, p.engineOp, p.cancelFn})
		}
	}
	c.canceledOps.Add(int64(len(stops)))
	c.cond.Broadcast()
	c.mu.Unlock()

	for _, s := range stops {
		if s.eng != nil {
			s.eng.CancelSynth(s.engineOp)
		}
		if s.cancelFn != nil {
			s.cancelFn()
		}
	}
	if len(stops) > 0 {
		log.Debug("canceled all synthesis", "running", len(stops))
	}
}

// SetConcurrency resizes the parallel engine call budget. Growing
// takes effect immediately; shrinking lets running jobs finish and
// only throttles new starts.
func (c *Coordinator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	if n > MaxConcurrency {
		n = MaxConcurrency
	}
	c.mu.Lock()
	if n != c.limit {
		log.Debug("synthesis concurrency changed", "from", c.limit, "to", n)
		c.limit = n
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// Concurrency returns the current budget.
func (c *Coordinator) Concurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// HoldNewStarts stops dequeuing new jobs. Running jobs finish
// normally. Used under critical memory pressure.
func (c *Coordinator) HoldNewStarts() {
	c.mu.Lock()
	if !c.held {
		c.held = true
		log.Debug("synthesis starts held")
	}
	c.mu.Unlock()
}

// ReleaseStarts resumes dequeuing after a hold.
func (c *Coordinator) ReleaseStarts() {
	c.mu.Lock()
	if c.held {
		c.held = false
		log.Debug("synthesis starts released")
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// Stats returns a counter snapshot.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	queueLen, inflight, limit, held := c.queue.Len(), c.inflight, c.limit, c.held
	c.mu.Unlock()
	return Stats{
		Enqueued:    c.enqueued.Load(),
		DedupJoins:  c.dedupJoins.Load(),
		CacheHits:   c.cacheHits.Load(),
		EngineCalls: c.engineCalls.Load(),
		Completed:   c.completed.Load(),
		Failures:    c.failures.Load(),
		Canceled:    c.canceledOps.Load(),
		QueueLen:    queueLen,
		Inflight:    inflight,
		Limit:       limit,
		Held:        held,
	}
}

// PendingFor reports whether a job for the key is queued or running.
func (c *Coordinator) PendingFor(key ttypes.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	return ok && !p.canceled.Load()
}

// Close cancels everything and stops the dispatcher. Enqueue after
// Close settles tickets with ErrCoordinatorClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	c.CancelAll()
	c.stop()
	return nil
}

// dispatch moves jobs from the queue into runners while budget allows.
func (c *Coordinator) dispatch() {
	c.mu.Lock()
	for {
		for !c.closed && (c.held || c.inflight >= c.limit || c.queue.Len() == 0) {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		p := c.queue.pop()
		if p == nil || p.canceled.Load() {
			continue
		}
		p.started = true
		// The engine op id is stable for the job even with several
		// waiters; cancellation routes through it.
		for op := range p.waiters {
			p.engineOp = op
			break
		}
		ctx, cancelFn := context.WithCancel(c.baseCtx)
		p.cancelFn = cancelFn
		c.inflight++
		go c.run(ctx, p)
	}
}

// run executes one job: cache re-check, engine call, condition,
// encode, store, settle.
func (c *Coordinator) run(ctx context.Context, p *pendingJob) {
	defer func() {
		if p.cancelFn != nil {
			p.cancelFn()
		}
		c.mu.Lock()
		c.inflight--
		if cur, ok := c.pending[p.job.Key]; ok && cur == p {
			delete(c.pending, p.job.Key)
		}
		for op := range p.waiters {
			delete(c.index, op)
		}
		c.cond.Broadcast()
		c.mu.Unlock()
	}()

	// A duplicate enqueued and completed while this job sat in the
	// queue, or a previous run stored it: serve from cache.
	if path, ok := c.cache.Path(p.job.Key); ok {
		c.cache.MarkUsed(p.job.Key)
		c.cacheHits.Add(1)
		p.fut.settle(path, nil)
		return
	}

	eng, err := c.resolver.Resolve(p.job.VoiceID)
	if err != nil {
		c.failures.Add(1)
		p.fut.settle("", err)
		return
	}
	c.mu.Lock()
	p.eng = eng
	c.mu.Unlock()

	rate := p.job.Rate
	if rate <= 0 {
		rate = ttypes.CanonicalRate
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	c.engineCalls.Add(1)
	res, err := eng.SynthesizeSegment(ctx, ttypes.SynthesisRequest{
		OpID:    p.engineOp,
		VoiceID: p.job.VoiceID,
		Text:    p.job.Text,
		Rate:    rate,
	})
	if err != nil {
		if p.canceled.Load() || ctx.Err() != nil {
			p.fut.settle("", ttypes.ErrCanceled)
			return
		}
		c.failures.Add(1)
		p.fut.settle("", &ttypes.SynthesisError{
			VoiceID: p.job.VoiceID,
			Message: "engine call failed",
			Cause:   err,
		})
		return
	}
	// A late success after cancellation is discarded whole: storing it
	// would make audio appear ready that no one asked to keep.
	if p.canceled.Load() {
		return
	}

	pcm := audio.Condition(res.PCM, res.SampleRate)
	wav, err := audio.EncodeWAV(pcm, res.SampleRate)
	if err != nil {
		c.failures.Add(1)
		p.fut.settle("", &ttypes.SynthesisError{
			VoiceID: p.job.VoiceID,
			Message: "encoding failed",
			Cause:   err,
		})
		return
	}
	durationMs := audio.DurationMs(pcm, res.SampleRate)
	if err := c.cache.Store(p.job.Key, wav, durationMs); err != nil {
		c.failures.Add(1)
		p.fut.settle("", &ttypes.SynthesisError{
			VoiceID: p.job.VoiceID,
			Message: "cache store failed",
			Cause:   err,
		})
		return
	}
	path, ok := c.cache.Path(p.job.Key)
	if !ok {
		c.failures.Add(1)
		p.fut.settle("", &ttypes.SynthesisError{
			VoiceID: p.job.VoiceID,
			Message: "stored audio not retrievable",
			Cause:   fmt.Errorf("key %s missing after store", p.job.Key),
		})
		return
	}
	c.completed.Add(1)
	log.Debug("synthesis complete",
		"ref", p.job.Ref,
		"voice", p.job.VoiceID,
		"duration_ms", durationMs,
		"elapsed", time.Since(start))
	p.fut.settle(path, nil)
}
