package datasource

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/go-i2p/dbcp/lib/pool"
	"github.com/go-i2p/dbcp/lib/resilience"
	"github.com/go-i2p/dbcp/lib/stmtcache"
)

// connFactory creates, checks and closes raw driver connections for the
// pool. Its embedded version counter is bumped when a critical failure
// shows that every existing connection is suspect.
type connFactory struct {
	pool.VersionCounter

	name      string
	connector driver.Connector
	breaker   *resilience.Breaker // nil when disabled
	cache     *stmtcache.Cache    // nil when disabled

	initSQL   string
	testQuery string
	// idleLimit: negative never probes, zero probes on every take.
	idleLimit time.Duration
}

var _ pool.Factory[driver.Conn] = (*connFactory)(nil)

// Create opens a connection and runs the init SQL on it. The holder carries
// the version observed before connecting, so a connection that races with
// an invalidation is already stale.
func (f *connFactory) Create(ctx context.Context) (*pool.Holder[driver.Conn], error) {
	version := f.Version()

	var conn driver.Conn
	open := func(ctx context.Context) error {
		c, err := f.connector.Connect(ctx)
		if err != nil {
			return err
		}
		if f.initSQL != "" {
			if err := execRaw(ctx, c, f.initSQL); err != nil {
				closeQuietly(f.name, c)
				return fmt.Errorf("init sql: %w", err)
			}
		}
		conn = c
		return nil
	}

	var err error
	if f.breaker != nil {
		err = f.breaker.Execute(ctx, open)
	} else {
		err = open(ctx)
	}
	if err != nil {
		return nil, err
	}

	log.WithField("pool", f.name).
		WithField("conn", fmt.Sprintf("%v", conn)).
		WithField("version", version).
		Debug("connection created")
	return pool.NewHolder(conn, version), nil
}

// ReadyToTake rejects stale holders and probes connections that sat idle
// for at least idleLimit.
func (f *connFactory) ReadyToTake(ctx context.Context, h *pool.Holder[driver.Conn]) bool {
	if !f.Current(h.Version()) {
		return false
	}
	if f.idleLimit < 0 || h.IdleFor(time.Now()) < f.idleLimit {
		return true
	}
	if err := f.probe(ctx, h.Value()); err != nil {
		log.WithField("pool", f.name).
			WithField("conn", fmt.Sprintf("%v", h.Value())).
			WithError(err).
			Debug("idle connection failed validation")
		return false
	}
	return true
}

func (f *connFactory) probe(ctx context.Context, conn driver.Conn) error {
	if p, ok := conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	if v, ok := conn.(driver.Validator); ok {
		if !v.IsValid() {
			return driver.ErrBadConn
		}
		return nil
	}
	if f.testQuery != "" {
		return execRaw(ctx, conn, f.testQuery)
	}
	return nil
}

// ReadyToRestore rejects stale or invalid connections and resets the
// session of the rest.
func (f *connFactory) ReadyToRestore(ctx context.Context, h *pool.Holder[driver.Conn]) bool {
	if !f.Current(h.Version()) {
		return false
	}
	conn := h.Value()
	if v, ok := conn.(driver.Validator); ok && !v.IsValid() {
		return false
	}
	if r, ok := conn.(driver.SessionResetter); ok {
		if err := r.ResetSession(ctx); err != nil {
			log.WithField("pool", f.name).
				WithField("conn", fmt.Sprintf("%v", conn)).
				WithError(err).
				Debug("session reset failed")
			return false
		}
	}
	return true
}

// Destroy drops the connection's cached statements, then closes it. The
// pool calls it at most once per holder.
func (f *connFactory) Destroy(h *pool.Holder[driver.Conn]) {
	conn := h.Value()
	defer func() {
		if v := recover(); v != nil {
			log.WithField("pool", f.name).
				WithField("conn", fmt.Sprintf("%v", conn)).
				WithField("panic", v).
				Warn("panic while destroying connection")
		}
	}()

	if f.cache != nil {
		if n := f.cache.RemoveAll(conn); n > 0 {
			log.WithField("pool", f.name).WithField("statements", n).Debug("removed cached statements")
		}
	}
	closeQuietly(f.name, conn)
}

func closeQuietly(name string, conn driver.Conn) {
	if err := conn.Close(); err != nil {
		log.WithField("pool", name).
			WithField("conn", fmt.Sprintf("%v", conn)).
			WithError(err).
			Debug("error closing connection")
	}
}

// execRaw runs query directly on a driver connection, preparing it when
// the driver has no direct execution.
func execRaw(ctx context.Context, conn driver.Conn, query string) error {
	if ex, ok := conn.(driver.ExecerContext); ok {
		_, err := ex.ExecContext(ctx, query, nil)
		if !errors.Is(err, driver.ErrSkip) {
			return err
		}
	}

	var (
		stmt driver.Stmt
		err  error
	)
	if pc, ok := conn.(driver.ConnPrepareContext); ok {
		stmt, err = pc.PrepareContext(ctx, query)
	} else {
		stmt, err = conn.Prepare(query)
	}
	if err != nil {
		return err
	}
	defer stmt.Close()

	if ex, ok := stmt.(driver.StmtExecContext); ok {
		_, err = ex.ExecContext(ctx, nil)
	} else {
		_, err = stmt.Exec(nil)
	}
	return err
}
