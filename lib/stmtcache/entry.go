package stmtcache

import (
	"database/sql/driver"
	"sync"
	"sync/atomic"
)

// State is the lifecycle tag of a cached statement.
type State int32

const (
	// Available entries are idle and may be taken.
	Available State = iota
	// InUse entries are leased to exactly one caller.
	InUse
	// Evicted is terminal. The statement is closed or will be closed by its
	// current holder on restore.
	Evicted
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case InUse:
		return "in_use"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// entryState is an atomic State.
type entryState struct {
	v atomic.Int32
}

func newEntryState(s State) *entryState {
	es := &entryState{}
	es.v.Store(int32(s))
	return es
}

func (es *entryState) load() State {
	return State(es.v.Load())
}

func (es *entryState) store(s State) {
	es.v.Store(int32(s))
}

func (es *entryState) swap(s State) State {
	return State(es.v.Swap(int32(s)))
}

func (es *entryState) compareAndSwap(old, next State) bool {
	return es.v.CompareAndSwap(int32(old), int32(next))
}

// Entry wraps one prepared statement handed out by the cache. Entries that
// lost the installation race, or were created while the cache was closed,
// carry no state and are not cached.
type Entry struct {
	key   Key
	stmt  driver.Stmt
	state *entryState

	closeOnce sync.Once
	closeErr  error
}

func newEntry(key Key, stmt driver.Stmt, state *entryState) *Entry {
	return &Entry{key: key, stmt: stmt, state: state}
}

// Stmt returns the underlying statement.
func (e *Entry) Stmt() driver.Stmt {
	return e.stmt
}

// Key returns the key the statement was prepared for.
func (e *Entry) Key() Key {
	return e.key
}

// Cached reports whether the entry is tracked by the cache.
func (e *Entry) Cached() bool {
	return e.state != nil
}

// State returns the current state. Uncached entries report InUse.
func (e *Entry) State() State {
	if e.state == nil {
		return InUse
	}
	return e.state.load()
}

// close closes the statement at most once.
func (e *Entry) close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.stmt.Close()
		if e.closeErr != nil {
			log.WithField("key", e.key.String()).WithError(e.closeErr).Debug("failed to close statement")
		}
	})
	return e.closeErr
}

// Close closes an uncached entry's statement. Cached entries must go back
// through Cache.Restore instead; for them Close is a no-op.
func (e *Entry) Close() error {
	if e.Cached() {
		return nil
	}
	return e.close()
}
