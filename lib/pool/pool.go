// Package pool provides a generic bounded concurrent object pool.
// It supports blocking and timed acquisition, fair (FIFO) or unfair waiter
// selection, versioned mass invalidation through the factory, optional
// tracking of checked-out holders, and lazy re-creation up to capacity.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Pool.
type Config struct {
	// Name identifies the pool in logs and metrics.
	Name string
	// InitialSize is the number of holders created up front. It is also the
	// floor below which the reducer does not shrink the pool.
	// Default: 0
	InitialSize int
	// MaxSize is the maximum number of holders, idle or taken.
	// Default: 10
	MaxSize int
	// Fair serves waiting takers strictly in arrival order.
	Fair bool
	// EnableTracking records every checked-out holder for leak diagnosis.
	EnableTracking bool
	// CreateRetryAttempts is the number of extra creation attempts after the
	// first one fails.
	// Default: 0
	CreateRetryAttempts int
	// CreateRetryDelay is the pause between creation attempts.
	CreateRetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:        "pool",
		InitialSize: 0,
		MaxSize:     10,
		Fair:        true,
	}
}

func (c Config) validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("pool: max size must be positive, got %d", c.MaxSize)
	}
	if c.InitialSize < 0 || c.InitialSize > c.MaxSize {
		return fmt.Errorf("pool: initial size %d must be between 0 and max size %d", c.InitialSize, c.MaxSize)
	}
	if c.CreateRetryAttempts < 0 {
		return fmt.Errorf("pool: retry attempts must not be negative, got %d", c.CreateRetryAttempts)
	}
	if c.CreateRetryDelay < 0 {
		return fmt.Errorf("pool: retry delay must not be negative, got %s", c.CreateRetryDelay)
	}
	return nil
}

// Pool is a bounded concurrent pool of holders.
//
// Capacity is enforced by permits: a caller holds one permit from a
// successful take until the matching restore. The free set is a buffered
// channel sized to MaxSize, so returning a holder never blocks.
type Pool[T any] struct {
	factory Factory[T]
	config  Config
	permits permits
	idle    chan *Holder[T]
	tracker tracker[T]

	created atomic.Int64

	lifetime   context.Context
	terminate  context.CancelFunc
	terminated atomic.Bool
	termOnce   sync.Once

	// Metrics
	takeCount       atomic.Uint64
	takeSuccess     atomic.Uint64
	takeTimeouts    atomic.Uint64
	createFailures  atomic.Uint64
	destroyedCount  atomic.Uint64
	validationFails atomic.Uint64
	restoreCount    atomic.Uint64
	invalidRestores atomic.Uint64
}

// New creates a pool and fills it with InitialSize holders. If the initial
// fill fails, every holder created so far is destroyed and the error returned.
func New[T any](ctx context.Context, factory Factory[T], cfg Config) (*Pool[T], error) {
	if factory == nil {
		return nil, errors.New("pool: no factory provided")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	lifetime, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		factory:   factory,
		config:    cfg,
		permits:   newPermits(cfg.MaxSize, cfg.Fair),
		idle:      make(chan *Holder[T], cfg.MaxSize),
		tracker:   tracker[T]{enabled: cfg.EnableTracking},
		lifetime:  lifetime,
		terminate: cancel,
	}

	for i := 0; i < cfg.InitialSize; i++ {
		h, err := p.create(ctx)
		if err != nil {
			p.Terminate()
			return nil, err
		}
		p.idle <- h
	}

	log.WithField("pool", cfg.Name).
		WithField("initialSize", cfg.InitialSize).
		WithField("maxSize", cfg.MaxSize).
		WithField("fair", cfg.Fair).
		Debug("pool created")
	return p, nil
}

// Name returns the configured pool name.
func (p *Pool[T]) Name() string {
	return p.config.Name
}

// Take blocks until a holder is available, the pool is terminated, or ctx is
// done. It never times out on its own.
func (p *Pool[T]) Take(ctx context.Context) (*Holder[T], error) {
	p.takeCount.Add(1)
	if p.IsTerminated() {
		return nil, ErrPoolTerminated
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.lifetime, cancel)
	defer stop()

	if err := p.permits.acquire(waitCtx); err != nil {
		if p.IsTerminated() {
			return nil, ErrPoolTerminated
		}
		return nil, err
	}
	return p.obtain(ctx)
}

// TryTake waits up to timeout for a holder. A zero timeout polls without
// blocking. ErrTimeout is returned when no holder became available; on
// timeout the pool's accounting is unchanged.
func (p *Pool[T]) TryTake(ctx context.Context, timeout time.Duration) (*Holder[T], error) {
	p.takeCount.Add(1)
	if p.IsTerminated() {
		return nil, ErrPoolTerminated
	}
	if timeout < 0 {
		return nil, fmt.Errorf("pool: negative timeout %s", timeout)
	}

	if timeout == 0 {
		if !p.permits.tryAcquire() {
			p.takeTimeouts.Add(1)
			return nil, ErrTimeout
		}
		return p.obtain(ctx)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(p.lifetime, cancel)
	defer stop()

	if err := p.permits.acquire(waitCtx); err != nil {
		switch {
		case p.IsTerminated():
			return nil, ErrPoolTerminated
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			p.takeTimeouts.Add(1)
			return nil, ErrTimeout
		}
	}
	return p.obtain(ctx)
}

// obtain turns an acquired permit into a holder. On failure the permit is
// released so the slot stays available for a retry.
func (p *Pool[T]) obtain(ctx context.Context) (*Holder[T], error) {
	for {
		if p.IsTerminated() {
			p.permits.release()
			return nil, ErrPoolTerminated
		}

		select {
		case h := <-p.idle:
			if !p.factory.ReadyToTake(ctx, h) {
				p.validationFails.Add(1)
				p.destroy(h)
				continue
			}
			return p.handOut(h), nil
		default:
		}

		h, err := p.create(ctx)
		if err != nil {
			p.permits.release()
			return nil, err
		}
		return p.handOut(h), nil
	}
}

func (p *Pool[T]) handOut(h *Holder[T]) *Holder[T] {
	h.markTaken()
	p.tracker.add(h)
	p.takeSuccess.Add(1)
	return h
}

// create runs the factory with the configured retry policy.
func (p *Pool[T]) create(ctx context.Context) (*Holder[T], error) {
	attempts := p.config.CreateRetryAttempts + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.config.CreateRetryDelay > 0 {
			timer := time.NewTimer(p.config.CreateRetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				p.createFailures.Add(1)
				return nil, &CreateError{Attempts: i, Err: errors.Join(lastErr, ctx.Err())}
			}
		}

		h, err := p.factory.Create(ctx)
		if err == nil {
			p.created.Add(1)
			return h, nil
		}
		lastErr = err
		log.WithField("pool", p.config.Name).
			WithField("attempt", i+1).
			WithError(err).
			Debug("failed to create resource")
		if ctx.Err() != nil {
			attempts = i + 1
			break
		}
	}

	p.createFailures.Add(1)
	return nil, &CreateError{Attempts: attempts, Err: lastErr}
}

// Restore returns a taken holder. The holder goes back to the free set only
// if valid is true, the factory accepts it, and the pool is not terminated;
// otherwise it is destroyed and a replacement is created lazily on demand.
func (p *Pool[T]) Restore(ctx context.Context, h *Holder[T], valid bool) error {
	if h == nil {
		return fmt.Errorf("pool: restore of nil holder")
	}
	if !p.tracker.remove(h) || !h.markRestored() {
		return ErrNotTaken
	}
	p.restoreCount.Add(1)
	defer p.permits.release()

	if !valid || p.IsTerminated() || !p.factory.ReadyToRestore(ctx, h) {
		if !valid {
			p.invalidRestores.Add(1)
		}
		p.destroy(h)
		return nil
	}

	h.Touch()
	p.idle <- h
	if p.IsTerminated() {
		// Terminate may have drained the free set just before the push.
		p.drainIdle()
	}
	return nil
}

// Terminate destroys every free holder and makes all pending and future
// takes fail with ErrPoolTerminated. Holders still taken are destroyed when
// restored. Calling Terminate more than once is a no-op.
func (p *Pool[T]) Terminate() {
	p.termOnce.Do(func() {
		p.terminated.Store(true)
		p.terminate()
		n := p.drainIdle()
		log.WithField("pool", p.config.Name).WithField("destroyed", n).Debug("pool terminated")
	})
}

// IsTerminated reports whether Terminate was called.
func (p *Pool[T]) IsTerminated() bool {
	return p.terminated.Load()
}

// ReduceCreated destroys up to reduction idle holders. Unless
// ignoreInitialSize is set it stops once CreatedTotal reaches InitialSize.
// It returns the number of holders actually destroyed.
func (p *Pool[T]) ReduceCreated(reduction int, ignoreInitialSize bool) (int, error) {
	if reduction < 0 {
		return 0, fmt.Errorf("pool: negative reduction %d", reduction)
	}
	if p.IsTerminated() {
		return 0, ErrPoolTerminated
	}

	reduced := 0
	for reduced < reduction {
		if !ignoreInitialSize && p.CreatedTotal() <= p.config.InitialSize {
			break
		}
		select {
		case h := <-p.idle:
			p.destroy(h)
			reduced++
		default:
			return reduced, nil
		}
	}
	return reduced, nil
}

// drainIdle destroys every holder currently in the free set.
func (p *Pool[T]) drainIdle() int {
	n := 0
	for {
		select {
		case h := <-p.idle:
			p.destroy(h)
			n++
		default:
			return n
		}
	}
}

func (p *Pool[T]) destroy(h *Holder[T]) {
	if !h.retire() {
		return
	}
	p.created.Add(-1)
	p.destroyedCount.Add(1)
	p.factory.Destroy(h)
}

// Taken returns the checked-out holders when tracking is enabled, oldest first.
func (p *Pool[T]) Taken() []TakenHolder[T] {
	return p.tracker.snapshot(0)
}

// Leaks returns the checked-out holders held for at least threshold.
func (p *Pool[T]) Leaks(threshold time.Duration) []TakenHolder[T] {
	return p.tracker.snapshot(threshold)
}

// Tracking reports whether taken holders are tracked.
func (p *Pool[T]) Tracking() bool {
	return p.tracker.enabled
}

// InitialSize returns the configured initial size.
func (p *Pool[T]) InitialSize() int {
	return p.config.InitialSize
}

// MaxSize returns the configured capacity.
func (p *Pool[T]) MaxSize() int {
	return p.config.MaxSize
}

// CreatedTotal returns the number of live holders, free and taken.
func (p *Pool[T]) CreatedTotal() int {
	return int(p.created.Load())
}

// RemainingCreated returns the number of free holders.
func (p *Pool[T]) RemainingCreated() int {
	return len(p.idle)
}

// TakenCount returns the number of holders currently checked out.
func (p *Pool[T]) TakenCount() int {
	n := p.CreatedTotal() - p.RemainingCreated()
	if n < 0 {
		return 0
	}
	return n
}

// RemainingCapacity returns how many more holders could be taken right now.
func (p *Pool[T]) RemainingCapacity() int {
	return p.config.MaxSize - p.TakenCount()
}

// Stats contains pool state information and accumulated counters.
type Stats struct {
	Name              string `json:"name"`
	InitialSize       int    `json:"initial_size"`
	MaxSize           int    `json:"max_size"`
	Created           int    `json:"created"`
	Free              int    `json:"free"`
	Taken             int    `json:"taken"`
	RemainingCapacity int    `json:"remaining_capacity"`
	Fair              bool   `json:"fair"`
	Tracking          bool   `json:"tracking"`
	Terminated        bool   `json:"terminated"`
	Version           int64  `json:"version"`

	TakeCount       uint64 `json:"take_count"`
	TakeSuccess     uint64 `json:"take_success"`
	TakeTimeouts    uint64 `json:"take_timeouts"`
	CreateFailures  uint64 `json:"create_failures"`
	Destroyed       uint64 `json:"destroyed"`
	ValidationFails uint64 `json:"validation_fails"`
	RestoreCount    uint64 `json:"restore_count"`
	InvalidRestores uint64 `json:"invalid_restores"`
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Name:              p.config.Name,
		InitialSize:       p.config.InitialSize,
		MaxSize:           p.config.MaxSize,
		Created:           p.CreatedTotal(),
		Free:              p.RemainingCreated(),
		Taken:             p.TakenCount(),
		RemainingCapacity: p.RemainingCapacity(),
		Fair:              p.config.Fair,
		Tracking:          p.tracker.enabled,
		Terminated:        p.IsTerminated(),
		Version:           p.factory.Version(),
		TakeCount:         p.takeCount.Load(),
		TakeSuccess:       p.takeSuccess.Load(),
		TakeTimeouts:      p.takeTimeouts.Load(),
		CreateFailures:    p.createFailures.Load(),
		Destroyed:         p.destroyedCount.Load(),
		ValidationFails:   p.validationFails.Load(),
		RestoreCount:      p.restoreCount.Load(),
		InvalidRestores:   p.invalidRestores.Load(),
	}
}
