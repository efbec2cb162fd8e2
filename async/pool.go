package async

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize returns min(NumCPU, 16), the bound spec.md §5 places
// on the CPU-bound task pool used for BLS verification and
// state-transition hot paths.
func DefaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 16 {
		return 16
	}
	if n < 1 {
		return 1
	}
	return n
}

// Pool is a bounded worker pool for CPU-bound work: BLS signature
// verification batches and state-transition invoked by BlockProcessor
// (spec.md §5). It is a semaphore-gated goroutine-per-submission pool
// rather than a fixed worker-goroutine set, so a submission that blocks
// on context cancellation cannot starve unrelated submissions.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool constructs a Pool allowing up to size concurrent submissions.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit runs fn once a slot is available, blocking the caller (a
// suspension point per spec.md §5) until either a slot frees up or ctx
// is cancelled.
func (p *Pool) Submit(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "could not acquire task pool slot")
	}
	defer p.sem.Release(1)
	return fn()
}

// TryAcquire reports whether a slot is immediately available, without
// blocking; used by callers that want to apply backpressure (spec.md §5)
// rather than queue.
func (p *Pool) TryAcquire() bool {
	return p.sem.TryAcquire(1)
}

// Release gives back a slot acquired via TryAcquire.
func (p *Pool) Release() {
	p.sem.Release(1)
}
