package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently running persistence calls.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a pool that admits size concurrent calls.
func New(size int64) *Pool {
	return &Pool{sem: semaphore.NewWeighted(size)}
}

// Do waits for a free slot and runs fn. Waiting honours ctx; once fn has
// started it runs on a context that is no longer cancelled with ctx, so a
// dropped connection cannot abort a half-finished write.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(context.WithoutCancel(ctx))
}
