package pool

import (
	"context"
	"sync/atomic"
)

// Factory creates, validates and destroys the resources managed by a Pool.
//
// The factory also owns a version counter. Bumping it invalidates every holder
// created under an older version without enumerating them: ReadyToTake and
// ReadyToRestore must reject holders whose Version differs from Version().
type Factory[T any] interface {
	// Create produces a new resource wrapped in a holder stamped with the
	// current version.
	Create(ctx context.Context) (*Holder[T], error)

	// ReadyToTake reports whether an idle holder may be handed out.
	ReadyToTake(ctx context.Context, h *Holder[T]) bool

	// ReadyToRestore reports whether a returned holder may go back to the
	// free set.
	ReadyToRestore(ctx context.Context, h *Holder[T]) bool

	// Destroy releases the underlying resource. It must be idempotent and
	// must not panic; failures are logged and swallowed.
	Destroy(h *Holder[T])

	// Version returns the current version.
	Version() int64

	// CompareAndSetVersion atomically sets the version to update if it
	// currently equals expect.
	CompareAndSetVersion(expect, update int64) bool
}

// VersionCounter is an atomic version counter that factories can embed to
// satisfy the Version and CompareAndSetVersion methods.
type VersionCounter struct {
	v atomic.Int64
}

// Version returns the current version.
func (v *VersionCounter) Version() int64 {
	return v.v.Load()
}

// CompareAndSetVersion atomically replaces expect with update.
func (v *VersionCounter) CompareAndSetVersion(expect, update int64) bool {
	return v.v.CompareAndSwap(expect, update)
}

// Current reports whether h was created under the current version.
func (v *VersionCounter) Current(version int64) bool {
	return v.v.Load() == version
}
