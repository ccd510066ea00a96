package pool

import (
	"fmt"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
)

// Aliases to the central error definitions in lib/errors.
var (
	// ErrPoolTerminated is returned by take operations after Terminate.
	ErrPoolTerminated = apperrors.ErrPoolTerminated
	// ErrTimeout is returned when TryTake found no holder within its timeout.
	ErrTimeout = apperrors.ErrPoolTimeout
	// ErrCreateFailed is matched by every *CreateError.
	ErrCreateFailed = apperrors.ErrCreateFailed
	// ErrNotTaken is returned when restoring a holder the pool did not hand out.
	ErrNotTaken = apperrors.ErrNotTaken
)

// CreateError reports that the factory could not produce a resource after
// all configured attempts. The capacity slot reserved for the attempt has
// already been released when the caller sees it.
type CreateError struct {
	Attempts int
	Err      error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", ErrCreateFailed, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the last factory error.
func (e *CreateError) Unwrap() []error {
	return []error{ErrCreateFailed, e.Err}
}
