package datasource

import (
	"fmt"
	"time"

	"github.com/go-i2p/dbcp/lib/metrics"
	"github.com/go-i2p/dbcp/lib/pool"
	"github.com/go-i2p/dbcp/lib/resilience"
	"github.com/go-i2p/dbcp/lib/stmtcache"
)

// Snapshot is a read-only view of a data source at one instant.
type Snapshot struct {
	Name    string            `json:"name"`
	State   State             `json:"state"`
	Pool    *pool.Stats       `json:"pool,omitempty"`
	Cache   *stmtcache.Stats  `json:"statement_cache,omitempty"`
	Breaker *resilience.Stats `json:"breaker,omitempty"`
}

// TakenConn describes one leased connection. Only available with
// pool.enable_connection_tracking.
type TakenConn struct {
	ID      string    `json:"id"`
	Conn    string    `json:"conn"`
	TakenAt time.Time `json:"taken_at"`
	HeldFor string    `json:"held_for"`
	Stack   string    `json:"stack,omitempty"`
}

// Monitor exposes the monitoring view of a DataSource without giving access
// to its connections.
type Monitor struct {
	ds *DataSource
}

// Monitor returns the read-only monitoring view of ds.
func (ds *DataSource) Monitor() *Monitor {
	return &Monitor{ds: ds}
}

// Snapshot returns the current state and counters.
func (m *Monitor) Snapshot() Snapshot {
	ds := m.ds
	s := Snapshot{Name: ds.Name(), State: ds.State()}
	if s.State == StateNew {
		return s
	}
	if ds.pool != nil {
		ps := ds.pool.Stats()
		s.Pool = &ps
	}
	if ds.cache != nil {
		cs := ds.cache.Stats()
		s.Cache = &cs
	}
	if ds.breaker != nil {
		bs := ds.breaker.Stats()
		s.Breaker = &bs
	}
	return s
}

// Tracking reports whether leased connections are tracked.
func (m *Monitor) Tracking() bool {
	return m.ds.cfg.Pool.EnableConnectionTracking
}

// Taken returns the connections leased for at least olderThan, oldest first.
func (m *Monitor) Taken(olderThan time.Duration) []TakenConn {
	ds := m.ds
	if ds.State() == StateNew || ds.pool == nil {
		return nil
	}

	now := time.Now()
	held := ds.pool.Leaks(olderThan)
	out := make([]TakenConn, 0, len(held))
	for _, th := range held {
		out = append(out, TakenConn{
			ID:      th.Info.ID.String(),
			Conn:    fmt.Sprintf("%v", th.Holder.Value()),
			TakenAt: th.Info.TakenAt,
			HeldFor: th.Info.HeldFor(now).Round(time.Millisecond).String(),
			Stack:   string(th.Info.Stack),
		})
	}
	return out
}

// Metrics returns the metrics registry of the data source.
func (m *Monitor) Metrics() *metrics.Registry {
	return m.ds.registry
}
