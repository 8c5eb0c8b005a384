package periodic

import (
	"context"
	"sync/atomic"
)

// Latch is a one-shot completion signal with a count of one. Release is
// idempotent: the first call opens the latch, later calls do nothing.
type Latch struct {
	released atomic.Bool
	done     chan struct{}
}

func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Release opens the latch and reports whether this call did it.
func (l *Latch) Release() bool {
	if !l.released.CompareAndSwap(false, true) {
		return false
	}
	close(l.done)
	return true
}

func (l *Latch) Released() bool { return l.released.Load() }

func (l *Latch) Done() <-chan struct{} { return l.done }

// Wait blocks until the latch is released or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	default:
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
