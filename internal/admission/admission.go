// Package admission bounds the number of queries evaluated concurrently
// against the index, so a burst of callers degrades to queuing rather than
// unbounded goroutine fan-out against segment files.
package admission

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter caps the number of in-flight queries at a fixed concurrency
// ceiling. Zero value is not usable; construct with New.
type Limiter struct {
	sem *semaphore.Weighted
	max int64
}

// New creates a Limiter admitting at most maxConcurrent queries at once. A
// non-positive maxConcurrent is treated as 1: admission control must never
// silently become unbounded.
func New(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(maxConcurrent)), max: int64(maxConcurrent)}
}

// Acquire blocks until a slot is free or ctx is done, whichever comes
// first. The caller must call the returned release func exactly once on
// success.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { l.sem.Release(1) }, nil
}

// TryAcquire attempts to admit a query without blocking. It returns false
// immediately if the limiter is already at capacity, letting a caller
// reject fast instead of queuing.
func (l *Limiter) TryAcquire() (release func(), ok bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	return func() { l.sem.Release(1) }, true
}

// MaxConcurrent reports the configured admission ceiling.
func (l *Limiter) MaxConcurrent() int {
	return int(l.max)
}
