// Package resilience guards connection creation with a circuit breaker.
//
// When the database is down every take that has to open a connection would
// otherwise wait for the driver's dial timeout, times the configured retry
// attempts. The breaker fails those creations fast after a run of
// consecutive failures, and lets a few probes through once its timeout has
// elapsed.
//
// State transitions:
//
//	Closed (normal) -> Open (failing) -> HalfOpen (probing) -> Closed
//	                     ^                    |
//	                     +--------------------+ (if a probe fails)
package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the normal operating state; creations pass through.
	Closed State = iota
	// Open means the circuit is tripped; creations fail immediately.
	Open
	// HalfOpen means a limited number of probes are allowed through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that open the
	// circuit.
	FailureThreshold int
	// SuccessThreshold is the number of successful probes that close it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// MaxHalfOpenRequests bounds concurrent probes.
	MaxHalfOpenRequests int
}

// DefaultConfig returns defaults suited to connection creation.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    1,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Breaker implements the circuit breaker pattern. It is safe for concurrent
// use.
type Breaker struct {
	mu     sync.Mutex
	config Config
	name   string
	now    func() time.Time

	state                State
	failureCount         int
	successCount         int
	halfOpenRequestCount int
	lastFailure          error
	lastFailureTime      time.Time
	lastStateChange      time.Time
	openedAt             time.Time

	onStateChange func(from, to State)

	trips      atomic.Uint64
	successes  atomic.Uint64
	failures   atomic.Uint64
	rejections atomic.Uint64
}

// New creates a breaker. Non-positive config fields take their defaults.
func New(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxHalfOpenRequests <= 0 {
		cfg.MaxHalfOpenRequests = def.MaxHalfOpenRequests
	}

	b := &Breaker{
		config: cfg,
		name:   name,
		now:    time.Now,
		state:  Closed,
	}
	b.lastStateChange = b.now()
	return b
}

// OnStateChange registers fn to be called after every transition. fn runs
// on its own goroutine.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open circuit whose timeout elapsed
// reports HalfOpen even before the next Allow performs the transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveState()
}

func (b *Breaker) effectiveState() State {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.config.Timeout {
		return HalfOpen
	}
	return b.state
}

// Allow reports whether a creation may proceed and reserves a probe slot
// when half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) >= b.config.Timeout {
			b.transitionTo(HalfOpen)
			b.halfOpenRequestCount = 1
			return true
		}
	case HalfOpen:
		if b.halfOpenRequestCount < b.config.MaxHalfOpenRequests {
			b.halfOpenRequestCount++
			return true
		}
	}
	b.rejections.Add(1)
	return false
}

// RecordSuccess records a successful creation.
func (b *Breaker) RecordSuccess() {
	b.successes.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		b.halfOpenRequestCount--
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionTo(Closed)
		}
	case Open:
		// a creation admitted before the trip finished late
		log.WithField("breaker", b.name).Debug("success recorded while circuit open")
	}
}

// RecordFailure records a failed creation.
func (b *Breaker) RecordFailure(err error) {
	b.failures.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = err
	b.lastFailureTime = b.now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.transitionTo(Open)
		}
	case HalfOpen:
		b.transitionTo(Open)
	}
}

// transitionTo changes the state. Must be called with the lock held.
func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}

	prev := b.state
	b.state = next
	b.lastStateChange = b.now()

	switch next {
	case Closed:
		b.failureCount = 0
		b.successCount = 0
	case Open:
		b.openedAt = b.lastStateChange
		b.successCount = 0
		b.trips.Add(1)
	case HalfOpen:
		b.successCount = 0
		b.halfOpenRequestCount = 0
	}

	entry := log.WithField("breaker", b.name).
		WithField("from", prev.String()).
		WithField("to", next.String())
	if next == Open && b.lastFailure != nil {
		entry.WithError(b.lastFailure).Warn("circuit breaker opened")
	} else {
		entry.Info("circuit breaker state transition")
	}

	if b.onStateChange != nil {
		go b.onStateChange(prev, next)
	}
}

// Execute runs fn if the circuit allows it and records the outcome.
// It returns an error wrapping ErrCircuitOpen when rejected. Failures caused
// by ctx being done are not counted against the circuit.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.Allow() {
		return &OpenError{Name: b.name, Last: b.LastFailure()}
	}

	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.release()
	default:
		b.RecordFailure(err)
	}
	return err
}

// release gives back a probe slot without recording an outcome.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen && b.halfOpenRequestCount > 0 {
		b.halfOpenRequestCount--
	}
}

// LastFailure returns the most recent recorded failure, or nil.
func (b *Breaker) LastFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

// Reset returns the breaker to the closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(Closed)
	b.halfOpenRequestCount = 0
	b.lastFailure = nil
	b.openedAt = time.Time{}
}

// Stats holds a snapshot of a breaker.
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	LastFailure     string    `json:"last_failure,omitempty"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
	LastStateChange time.Time `json:"last_state_change"`
	Trips           uint64    `json:"trips"`
	Rejections      uint64    `json:"rejections"`
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Name:            b.name,
		State:           b.effectiveState().String(),
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
		Trips:           b.trips.Load(),
		Rejections:      b.rejections.Load(),
	}
	if b.lastFailure != nil {
		s.LastFailure = b.lastFailure.Error()
	}
	return s
}
