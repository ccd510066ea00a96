package pool

import (
	"sync/atomic"
	"time"
)

// Holder wraps one live resource together with the factory version captured
// at creation time and its usage timestamps. A holder is owned by exactly one
// of the free set, a caller that took it, or the destroy path.
type Holder[T any] struct {
	value     T
	version   int64
	createdAt time.Time
	lastUsed  atomic.Int64 // unix nanoseconds
	taken     atomic.Bool
	retired   atomic.Bool
}

// NewHolder wraps value created under the given factory version.
func NewHolder[T any](value T, version int64) *Holder[T] {
	now := time.Now()
	h := &Holder[T]{
		value:     value,
		version:   version,
		createdAt: now,
	}
	h.lastUsed.Store(now.UnixNano())
	return h
}

// Value returns the wrapped resource.
func (h *Holder[T]) Value() T {
	return h.value
}

// Version returns the factory version the holder was created under.
func (h *Holder[T]) Version() int64 {
	return h.version
}

// CreatedAt returns the creation time.
func (h *Holder[T]) CreatedAt() time.Time {
	return h.createdAt
}

// LastUsed returns the time the holder was last restored or created.
func (h *Holder[T]) LastUsed() time.Time {
	return time.Unix(0, h.lastUsed.Load())
}

// Touch records now as the last-used time.
func (h *Holder[T]) Touch() {
	h.lastUsed.Store(time.Now().UnixNano())
}

// IdleFor returns how long the holder has been unused at now.
func (h *Holder[T]) IdleFor(now time.Time) time.Duration {
	return now.Sub(h.LastUsed())
}

// Taken reports whether the holder is checked out by a caller.
func (h *Holder[T]) Taken() bool {
	return h.taken.Load()
}

func (h *Holder[T]) markTaken() {
	h.taken.Store(true)
}

// markRestored clears the taken flag. Only the first call after a take
// returns true.
func (h *Holder[T]) markRestored() bool {
	return h.taken.CompareAndSwap(true, false)
}

// Retired reports whether the pool has already sent the holder to destruction.
func (h *Holder[T]) Retired() bool {
	return h.retired.Load()
}

// retire marks the holder as destroyed. Only the first call returns true.
func (h *Holder[T]) retire() bool {
	return h.retired.CompareAndSwap(false, true)
}
