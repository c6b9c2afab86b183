package admission

import (
	"context"
	"sync/atomic"
)

// Unbounded admits every connection immediately. It still counts slots so
// InUse reports the number of live handlers.
type Unbounded struct {
	inUse atomic.Int64
}

func NewUnbounded() *Unbounded {
	return &Unbounded{}
}

func (u *Unbounded) Name() string {
	return "unbounded"
}

func (u *Unbounded) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.inUse.Add(1)
	return nil
}

func (u *Unbounded) Release() {
	u.inUse.Add(-1)
}

func (u *Unbounded) InUse() int {
	return int(u.inUse.Load())
}

// Bounded caps concurrent handlers with a buffered-channel semaphore.
// When all slots are taken, Acquire blocks, and so does the accept loop.
type Bounded struct {
	slots chan struct{}
}

// NewBounded returns a Bounded policy with max slots. max < 1 is treated as 1.
func NewBounded(max int) *Bounded {
	if max < 1 {
		max = 1
	}
	return &Bounded{slots: make(chan struct{}, max)}
}

func (b *Bounded) Name() string {
	return "bounded"
}

func (b *Bounded) Acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bounded) Release() {
	select {
	case <-b.slots:
	default:
		// Release without a matching Acquire; nothing to return.
	}
}

func (b *Bounded) InUse() int {
	return len(b.slots)
}

// Cap returns the maximum number of concurrent slots.
func (b *Bounded) Cap() int {
	return cap(b.slots)
}
