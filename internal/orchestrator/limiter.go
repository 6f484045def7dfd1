package orchestrator

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many generation tasks execute simultaneously. The
// weighted semaphore is shared across batches, so the render bound holds
// process-wide no matter how many batches are in flight.
type Limiter struct {
	sem *semaphore.Weighted
	cap int
}

// NewLimiter constructs a limiter admitting at most max concurrent tasks.
func NewLimiter(max int) *Limiter {
	if max <= 0 {
		max = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(max)), cap: max}
}

// Cap returns the configured concurrency bound.
func (l *Limiter) Cap() int {
	return l.cap
}

// Run blocks until a slot is free or ctx is done, then executes task. The
// slot is released on every exit path, including a panicking task. A ctx
// error means task never ran.
func (l *Limiter) Run(ctx context.Context, task func()) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	task()
	return nil
}
