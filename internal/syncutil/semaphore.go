package syncutil

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds how many callers run a section at once. Waiters are
// admitted in FIFO order; completion order is not guaranteed.
type Semaphore struct {
	w *semaphore.Weighted
}

// NewSemaphore creates a semaphore admitting at most n concurrent callers.
func NewSemaphore(n int64) *Semaphore {
	return &Semaphore{w: semaphore.NewWeighted(n)}
}

// Use runs fn once a slot is free, releasing the slot when fn returns.
// It returns ctx.Err() if the context ends before a slot frees up.
func (s *Semaphore) Use(ctx context.Context, fn func() error) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.w.Release(1)
	return fn()
}
