package resilience

import (
	"fmt"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
)

// ErrCircuitOpen is matched by every *OpenError.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// OpenError is returned by Execute when the circuit rejected the call.
type OpenError struct {
	Name string
	// Last is the failure that most recently counted against the circuit.
	Last error
}

func (e *OpenError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s: %v (last failure: %v)", e.Name, ErrCircuitOpen, e.Last)
	}
	return fmt.Sprintf("%s: %v", e.Name, ErrCircuitOpen)
}

// Unwrap matches ErrCircuitOpen only, so a rejected creation is not mistaken
// for the failure that tripped the circuit.
func (e *OpenError) Unwrap() error {
	return ErrCircuitOpen
}
