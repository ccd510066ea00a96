package proxy

import "sync"

// ExceptionListener collects the non-transient failures observed on one
// leased connection and the statements derived from it.
type ExceptionListener interface {
	AddException(err error)
	Exceptions() []error
	Clear()
}

// Collector is the default ExceptionListener.
type Collector struct {
	mu   sync.Mutex
	errs []error
}

// AddException records err. Nil errors are ignored.
func (c *Collector) AddException(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

// Exceptions returns a copy of the recorded errors in arrival order.
func (c *Collector) Exceptions() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.errs...)
}

// Clear forgets every recorded error.
func (c *Collector) Clear() {
	c.mu.Lock()
	c.errs = nil
	c.mu.Unlock()
}
