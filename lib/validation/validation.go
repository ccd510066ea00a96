// Package validation provides the field validators used by the pool
// configuration. Validators return nil on success and a *Result naming the
// offending field on failure, so a caller can collect every problem of one
// configuration file before reporting.
package validation

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors wrapped by every Result; check them with errors.Is().
var (
	// ErrRequired indicates a required field is missing or empty.
	ErrRequired = errors.New("field is required")

	// ErrTooLong indicates a string exceeds the maximum length.
	ErrTooLong = errors.New("value exceeds maximum length")

	// ErrInvalidFormat indicates a value doesn't match the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrOutOfRange indicates a numeric value is outside the allowed range.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidDuration indicates an invalid duration string.
	ErrInvalidDuration = errors.New("invalid duration")
)

const (
	// MaxPoolNameLength bounds pool names, which end up in log fields and
	// metric labels.
	MaxPoolNameLength = 64
)

var (
	poolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
	sqlStatePattern = regexp.MustCompile(`^[0-9A-Z]{5}$`)
)

// Result represents a validation result with field context.
type Result struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (r *Result) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return r.Message
}

// Unwrap returns the underlying error for errors.Is() support.
func (r *Result) Unwrap() error {
	return r.Err
}

// NewResult creates a validation result.
func NewResult(field, message string, err error) *Result {
	return &Result{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Required validates that a string is non-empty.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewResult(field, "is required", ErrRequired)
	}
	return nil
}

// MaxLength validates that a string doesn't exceed the maximum length.
func MaxLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return NewResult(field, fmt.Sprintf("exceeds maximum length of %d characters", max), ErrTooLong)
	}
	return nil
}

// IntRange validates that an integer is within the given range (inclusive).
func IntRange(field string, value, min, max int) error {
	if value < min || value > max {
		return NewResult(field, fmt.Sprintf("must be between %d and %d", min, max), ErrOutOfRange)
	}
	return nil
}

// Positive validates that an integer is positive (> 0).
func Positive(field string, value int) error {
	if value <= 0 {
		return NewResult(field, "must be positive", ErrOutOfRange)
	}
	return nil
}

// NonNegative validates that an integer is non-negative (>= 0).
func NonNegative(field string, value int) error {
	if value < 0 {
		return NewResult(field, "must be non-negative", ErrOutOfRange)
	}
	return nil
}

// AtLeast validates that value >= min.
func AtLeast(field string, value, min int) error {
	if value < min {
		return NewResult(field, fmt.Sprintf("must be at least %d", min), ErrOutOfRange)
	}
	return nil
}

// Duration parses a duration string. Empty means zero.
func Duration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, NewResult(field, "invalid duration format", ErrInvalidDuration)
	}
	return d, nil
}

// NonNegativeDuration validates that d >= 0.
func NonNegativeDuration(field string, d time.Duration) error {
	if d < 0 {
		return NewResult(field, "duration cannot be negative", ErrOutOfRange)
	}
	return nil
}

// PoolName validates a pool name.
func PoolName(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if err := MaxLength(field, value, MaxPoolNameLength); err != nil {
		return err
	}
	if !poolNamePattern.MatchString(value) {
		return NewResult(field, "must contain only letters, numbers, dots, dashes, and underscores", ErrInvalidFormat)
	}
	return nil
}

// SQLState validates a five character SQLSTATE class or code.
func SQLState(field, value string) error {
	if !sqlStatePattern.MatchString(strings.ToUpper(strings.TrimSpace(value))) {
		return NewResult(field, fmt.Sprintf("%q is not a five character SQLSTATE", value), ErrInvalidFormat)
	}
	return nil
}

// HostPort validates a host:port address. The host may be empty.
func HostPort(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	_, _, err := net.SplitHostPort(value)
	if err != nil {
		return NewResult(field, "must be in host:port format", ErrInvalidFormat)
	}

	return nil
}

// OneOf validates that value is one of allowed.
func OneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return NewResult(field, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")), ErrInvalidFormat)
}

// All runs multiple validation functions and returns the first error.
func All(validators ...func() error) error {
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// Errors collects multiple validation errors.
type Errors []error

// Add appends an error to the collection (nil errors are ignored).
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// HasErrors returns true if any errors were collected.
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Error returns all errors as a single error message.
func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("multiple validation errors: ")
	for i, err := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e Errors) Unwrap() []error {
	return e
}

// First returns the first error, or nil if none.
func (e Errors) First() error {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}

// Err returns nil when nothing was collected, otherwise the collection.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
