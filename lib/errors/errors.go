// Package errors provides structured error types for the dbcp connection pool.
// Errors returned by the pool, the statement cache and the data source wrap
// one of the sentinels below so callers can branch with errors.Is.
//
// This package provides:
//   - Sentinel errors for acquisition, lifecycle and configuration failures
//   - Error codes used by the monitoring endpoints
//   - Error wrapping with context preservation
//   - Safe error messages that don't leak connection strings or credentials
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for categorizing errors.
const (
	CodeInternal      = 1000 // Unclassified failure
	CodeTimeout       = 1001 // Acquisition timed out
	CodeTerminated    = 1002 // Pool or data source terminated
	CodeCreate        = 1003 // Resource could not be created
	CodeInvalidParams = 1004 // Invalid arguments
	CodeConfiguration = 1005 // Invalid configuration
	CodeState         = 1006 // Invalid lifecycle state
	CodeConnection    = 1007 // Underlying connection failure
	CodeNotFound      = 1008 // Resource not found
	CodeUnavailable   = 1009 // Temporarily unavailable (circuit open)
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrTimeout indicates an acquisition did not complete within its time limit.
	ErrTimeout = errors.New("timed out")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrTerminated indicates a pool or data source was terminated.
	ErrTerminated = errors.New("terminated")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState indicates an invalid state transition.
	ErrInvalidState = errors.New("invalid state")

	// ErrConnection indicates a failure of the underlying connection.
	ErrConnection = errors.New("connection error")

	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates a service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")

	// ErrConfiguration indicates a configuration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the circuit breaker is open.
	ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", ErrUnavailable)
)

// Pool errors
var (
	// ErrPoolTerminated is returned by take operations after the pool was terminated.
	ErrPoolTerminated = fmt.Errorf("pool: %w", ErrTerminated)

	// ErrPoolTimeout is returned when no holder became available in time.
	ErrPoolTimeout = fmt.Errorf("pool: %w", ErrTimeout)

	// ErrCreateFailed indicates the factory could not produce a usable resource.
	ErrCreateFailed = errors.New("pool: could not create resource")

	// ErrNotTaken is returned when restoring a holder that is not checked out.
	ErrNotTaken = fmt.Errorf("pool: holder not taken: %w", ErrInvalidState)
)

// Connection proxy errors
var (
	// ErrConnClosed is returned by calls on a connection that was released.
	ErrConnClosed = fmt.Errorf("proxy: connection %w", ErrClosed)

	// ErrStmtClosed is returned by calls on a statement that was closed.
	ErrStmtClosed = fmt.Errorf("proxy: statement %w", ErrClosed)
)

// Data source errors
var (
	// ErrNotStarted indicates the data source has not been opened.
	ErrNotStarted = fmt.Errorf("datasource: not started: %w", ErrInvalidState)

	// ErrDataSourceTerminated is returned after Terminate.
	ErrDataSourceTerminated = fmt.Errorf("datasource: %w", ErrTerminated)

	// ErrInvalidConfig indicates an invalid configuration.
	ErrInvalidConfig = fmt.Errorf("datasource: %w", ErrConfiguration)
)

// Error is a structured error with a code and safe message.
// It implements the error interface and provides methods for
// error handling and response generation.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a safe, user-facing error message
	Message string `json:"message"`
	// Err is the underlying error (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// SafeMessage returns a client-safe error message without internal details.
func (e *Error) SafeMessage() string {
	return e.Message
}

// HTTPStatus maps the error code to an HTTP status for the monitoring endpoints.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidParams, CodeConfiguration:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeTerminated, CodeUnavailable, CodeConnection, CodeCreate:
		return http.StatusServiceUnavailable
	case CodeState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new structured error with the given code and message.
// The message should be safe to return to clients.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and safe message.
// The original error is preserved for debugging but not exposed to clients.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WrapInternal wraps an internal error with a generic message.
// Use this when the original error may contain a DSN or credentials.
func WrapInternal(err error) *Error {
	if err != nil {
		log.WithError(err).Debug("wrapping internal error")
	}
	return &Error{
		Code:    CodeInternal,
		Message: "internal error",
		Err:     err,
	}
}

// FromSentinel creates a structured error from a sentinel error.
// It automatically assigns an appropriate error code based on the error type.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    codeFromError(err),
		Message: err.Error(),
		Err:     err,
	}
}

// codeFromError maps sentinel errors to error codes.
func codeFromError(err error) int {
	switch {
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrTerminated):
		return CodeTerminated
	case errors.Is(err, ErrCreateFailed):
		return CodeCreate
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidParams
	case errors.Is(err, ErrInvalidState):
		return CodeState
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// IsTimeout returns true if the error indicates an acquisition timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsTerminated returns true if the error indicates a terminated pool or data source.
func IsTerminated(err error) bool {
	return errors.Is(err, ErrTerminated)
}

// IsCreateFailed returns true if the error indicates a resource creation failure.
func IsCreateFailed(err error) bool {
	return errors.Is(err, ErrCreateFailed)
}

// IsClosed returns true if the error indicates a resource is closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsInvalidInput returns true if the error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsInvalidState returns true if the error indicates an invalid state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsUnavailable returns true if the error indicates a service is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
