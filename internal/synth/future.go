package synth

import (
	"context"
	"sync"

	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
)

// future is a write-once settlement cell. The first settle wins; every
// later settle is a no-op, which is what makes late engine completions
// after cancellation harmless.
type future struct {
	once sync.Once
	done chan struct{}
	path string
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) settle(path string, err error) {
	f.once.Do(func() {
		f.path = path
		f.err = err
		close(f.done)
	})
}

func (f *future) settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Ticket is a requester's handle on one synthesis request. Tickets
// sharing a cache key share the underlying job but cancel
// independently.
type Ticket struct {
	// OpID identifies this requester's interest in the job.
	OpID string

	// Key is the cache key the job settles.
	Key ttypes.CacheKey

	coord *Coordinator
	fut   *future
}

// Wait blocks until the job settles or ctx expires. On success it
// returns the cached audio file path.
func (t *Ticket) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.fut.done:
		return t.fut.path, t.fut.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed once the job has settled.
func (t *Ticket) Done() <-chan struct{} { return t.fut.done }

// Result returns the settled outcome. Only valid after Done is closed.
func (t *Ticket) Result() (string, error) { return t.fut.path, t.fut.err }

// Cancel withdraws this requester's interest. The underlying job is
// only stopped when no other requester remains interested.
func (t *Ticket) Cancel() {
	if t.coord != nil {
		t.coord.Cancel(t.OpID)
	}
}
