package engine

import "context"

// semaphore is a channel-based counting semaphore.
// Tokens are pre-filled up to limit.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(limit int) *semaphore {
	if limit <= 0 {
		limit = 1
	}
	s := &semaphore{ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		s.ch <- struct{}{}
	}
	return s
}

// acquire blocks until a token is available or ctx is done.
func (s *semaphore) acquire(ctx context.Context) bool {
	// Prefer cancellation over a free token.
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-s.ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *semaphore) release() {
	// Never block on release.
	select {
	case s.ch <- struct{}{}:
	default:
	}
}
