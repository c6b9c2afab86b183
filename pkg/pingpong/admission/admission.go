// Package admission decides whether the listener may hand another accepted
// connection to a handler goroutine.
package admission

import "context"

// Policy is consulted by the accept loop before every handoff.
// Acquire blocks until a slot is free or ctx is done; Release returns the slot.
// Implementations must be safe for concurrent use.
type Policy interface {
	Name() string
	Acquire(ctx context.Context) error
	Release()
	InUse() int
}
