package pool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// permits bounds the number of holders checked out at any time.
type permits interface {
	acquire(ctx context.Context) error
	tryAcquire() bool
	release()
}

func newPermits(size int, fair bool) permits {
	if fair {
		return &fairPermits{sem: semaphore.NewWeighted(int64(size))}
	}
	ch := make(chan struct{}, size)
	for i := 0; i < size; i++ {
		ch <- struct{}{}
	}
	return &channelPermits{ch: ch}
}

// fairPermits serves waiters strictly in arrival order.
type fairPermits struct {
	sem *semaphore.Weighted
}

func (f *fairPermits) acquire(ctx context.Context) error {
	return f.sem.Acquire(ctx, 1)
}

func (f *fairPermits) tryAcquire() bool {
	return f.sem.TryAcquire(1)
}

func (f *fairPermits) release() {
	f.sem.Release(1)
}

// channelPermits makes no ordering promise between waiters.
type channelPermits struct {
	ch chan struct{}
}

func (c *channelPermits) acquire(ctx context.Context) error {
	select {
	case <-c.ch:
		return nil
	default:
	}
	select {
	case <-c.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channelPermits) tryAcquire() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

func (c *channelPermits) release() {
	select {
	case c.ch <- struct{}{}:
	default:
		log.Warn("permit released more times than acquired")
	}
}
