package proxy

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
)

// DefaultCriticalSQLStates are the SQLSTATE codes that indicate the database
// server or the network path to it is gone, so every connection created
// before the failure should be considered broken.
var DefaultCriticalSQLStates = []string{
	"08001", // unable to connect
	"08006", // connection failure
	"08007", // transaction resolution unknown
	"08S01", // communication link failure
	"57P01", // admin shutdown
	"57P02", // crash shutdown
	"57P03", // cannot connect now
	"JZ0C0", // connection closed
	"JZ0C1", // connection closed
}

// transientError marks an error as expected noise that should not be
// remembered against the connection.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as transient. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// SQLState returns the SQLSTATE code carried by err, or "" if none.
func SQLState(err error) string {
	var se interface{ SQLState() string }
	if errors.As(err, &se) {
		return se.SQLState()
	}
	return ""
}

// Classifier decides which call failures are remembered and which of those
// invalidate the whole pool.
type Classifier struct {
	critical map[string]struct{}
}

// NewClassifier returns a classifier treating states as critical. A nil
// slice selects DefaultCriticalSQLStates.
func NewClassifier(states []string) *Classifier {
	if states == nil {
		states = DefaultCriticalSQLStates
	}
	c := &Classifier{critical: make(map[string]struct{}, len(states))}
	for _, s := range states {
		if s = strings.TrimSpace(s); s != "" {
			c.critical[strings.ToUpper(s)] = struct{}{}
		}
	}
	return c
}

// IsTransient reports whether err is an expected failure that leaves the
// connection usable: context cancellation, deadlines, network timeouts, and
// errors marked with Transient.
func (c *Classifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsCritical reports whether err means every connection of the pool should
// be invalidated.
func (c *Classifier) IsCritical(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	state := SQLState(err)
	if state == "" {
		return false
	}
	_, ok := c.critical[strings.ToUpper(state)]
	return ok
}

// HasCritical reports whether any of errs is critical.
func (c *Classifier) HasCritical(errs []error) bool {
	for _, err := range errs {
		if c.IsCritical(err) {
			return true
		}
	}
	return false
}

// States returns the configured critical SQLSTATE codes.
func (c *Classifier) States() []string {
	out := make([]string, 0, len(c.critical))
	for s := range c.critical {
		out = append(out, s)
	}
	return out
}
