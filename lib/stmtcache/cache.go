// Package stmtcache implements a bounded LRU cache of prepared statements
// shared by every connection of a pool.
//
// Each cached statement carries an atomic state (Available, InUse, Evicted).
// Taking a cached statement is a single compare-and-swap from Available to
// InUse, so at most one caller holds a given statement. Eviction happens
// synchronously inside the insert that overflows the cache: the victim's
// state is swapped to Evicted and its statement closed right away if it
// was idle, or by its holder on restore if it was in use.
package stmtcache

import (
	"database/sql/driver"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
)

// MaxSize is the hard upper bound on the number of cached statements.
const MaxSize = 1000

// Invoker prepares a statement on the underlying connection.
type Invoker func() (driver.Stmt, error)

// WarningsClearer is implemented by statements that accumulate side effects
// which must be cleared before reuse.
type WarningsClearer interface {
	ClearWarnings() error
}

// Cache is a concurrency-safe LRU statement cache.
type Cache struct {
	entries *lru.Cache[Key, *Entry]
	maxSize int
	closed  atomic.Bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	uncached  atomic.Uint64
}

// New creates a cache holding at most maxSize statements. maxSize must be
// between 1 and MaxSize.
func New(maxSize int) (*Cache, error) {
	if maxSize <= 0 || maxSize > MaxSize {
		return nil, fmt.Errorf("stmtcache: max size must be between 1 and %d, got %d: %w", MaxSize, maxSize, apperrors.ErrInvalidInput)
	}
	c := &Cache{maxSize: maxSize}
	entries, err := lru.NewWithEvict[Key, *Entry](maxSize, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// onEvict runs for capacity evictions and explicit removals alike. Only an
// idle victim is closed here; an in-use victim is closed by its holder.
func (c *Cache) onEvict(key Key, e *Entry) {
	if e.state.swap(Evicted) == Available {
		e.close()
	}
	log.WithField("key", key.String()).Debug("statement evicted")
}

// Take returns a statement for key. A cached Available statement is leased
// directly. Otherwise invoker prepares a new one, which is installed only if
// no entry exists for key yet; a statement that loses that race is returned
// uncached. A closed cache always delegates to invoker.
func (c *Cache) Take(key Key, invoker Invoker) (*Entry, error) {
	if c.IsClosed() {
		stmt, err := invoker()
		if err != nil {
			return nil, err
		}
		return newEntry(key, stmt, nil), nil
	}

	e, ok := c.entries.Get(key)
	if ok && e.state.compareAndSwap(Available, InUse) {
		c.hits.Add(1)
		return e, nil
	}

	c.misses.Add(1)
	stmt, err := invoker()
	if err != nil {
		return nil, err
	}

	if !ok {
		fresh := newEntry(key, stmt, newEntryState(InUse))
		found, evicted := c.entries.ContainsOrAdd(key, fresh)
		if evicted {
			c.evictions.Add(1)
		}
		if !found {
			if c.IsClosed() {
				// Close drained the cache while we were installing.
				c.entries.Remove(key)
			}
			return fresh, nil
		}
	}

	c.uncached.Add(1)
	return newEntry(key, stmt, nil), nil
}

// Restore returns a leased entry. Uncached entries are ignored. If
// clearWarnings is set and the statement implements WarningsClearer, its
// side effects are cleared first; a failure there removes and closes the
// entry. An entry evicted while it was in use is closed.
func (c *Cache) Restore(e *Entry, clearWarnings bool) {
	if e == nil || e.state == nil {
		return
	}
	if c.IsClosed() {
		c.remove(e)
		e.state.store(Evicted)
	}

	if clearWarnings {
		if wc, ok := e.stmt.(WarningsClearer); ok {
			if err := wc.ClearWarnings(); err != nil {
				log.WithField("key", e.key.String()).WithError(err).Debug("failed to clear statement warnings")
				c.remove(e)
				e.close()
				e.state.store(Evicted)
				return
			}
		}
	}

	if !e.state.compareAndSwap(InUse, Available) {
		e.close()
	}
}

// Remove removes the entry holding stmt. It reports whether an entry was
// removed. A removed idle statement is closed.
func (c *Cache) Remove(stmt driver.Stmt) bool {
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && e.stmt == stmt {
			return c.entries.Remove(key)
		}
	}
	return false
}

func (c *Cache) remove(e *Entry) {
	if cur, ok := c.entries.Peek(e.key); ok && cur == e {
		c.entries.Remove(e.key)
	}
}

// RemoveAll removes and closes every statement prepared on conn, regardless
// of its state. It returns the number of entries removed.
func (c *Cache) RemoveAll(conn driver.Conn) int {
	removed := 0
	for _, key := range c.entries.Keys() {
		if key.Conn != conn {
			continue
		}
		e, ok := c.entries.Peek(key)
		if !ok || !c.entries.Remove(key) {
			continue
		}
		e.close()
		removed++
	}
	return removed
}

// Close closes the cache and every statement left in it. It is idempotent.
func (c *Cache) Close() {
	if c.closed.Swap(true) {
		return
	}
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok || !c.entries.Remove(key) {
			continue
		}
		e.close()
	}
	log.Debug("statement cache closed")
}

// IsClosed reports whether Close was called.
func (c *Cache) IsClosed() bool {
	return c.closed.Load()
}

// Len returns the number of cached statements.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// MaxSize returns the capacity.
func (c *Cache) MaxSize() int {
	return c.maxSize
}

// Stats contains cache counters.
type Stats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	Closed    bool   `json:"closed"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Uncached  uint64 `json:"uncached"`
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:      c.Len(),
		MaxSize:   c.maxSize,
		Closed:    c.IsClosed(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Uncached:  c.uncached.Load(),
	}
}
