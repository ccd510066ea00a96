// Package proxy decorates leased database connections and the statements
// prepared on them. Every forwarded call that fails with a non-transient
// error is recorded with the connection's ExceptionListener, which the
// owning data source consults on release to decide between returning the
// connection to the pool, destroying it, or invalidating the whole pool.
package proxy

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/stmtcache"
)

var (
	// ErrConnClosed is returned by calls on a connection after Close.
	ErrConnClosed = apperrors.ErrConnClosed
	// ErrStmtClosed is returned by calls on a statement after Close.
	ErrStmtClosed = apperrors.ErrStmtClosed
)

// Options is shared by every connection of one data source.
type Options struct {
	// PoolName is reported to the query logger.
	PoolName string
	// Cache serves PrepareContext when set.
	Cache *stmtcache.Cache
	// ClearWarnings clears statement side effects before they go back to
	// the cache.
	ClearWarnings bool
	// Classifier decides which failures are remembered. Nil uses the
	// default critical SQLSTATE set.
	Classifier *Classifier
	// QueryLogger receives slow executions.
	QueryLogger QueryLogger
	// LogQueryLongerThan is the slow query threshold; negative disables.
	LogQueryLongerThan time.Duration
}

var defaultClassifier = NewClassifier(nil)

// ReleaseFunc returns a connection to its owner. errs holds the recorded
// failures. It is called exactly once, by the first Close.
type ReleaseFunc func(errs []error) error

// Conn is the caller-visible lease over one pooled connection.
type Conn struct {
	raw        driver.Conn
	opts       *Options
	classifier *Classifier
	listener   ExceptionListener
	release    ReleaseFunc
	stmts      sync.Map // *Stmt -> struct{}, open statements
	closed     atomic.Bool
}

// Interface assertions
var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
	_ fmt.Stringer              = (*Conn)(nil)
)

// NewConn wraps raw. release is called once when the lease is closed.
func NewConn(raw driver.Conn, opts *Options, release ReleaseFunc) *Conn {
	if opts == nil {
		opts = &Options{LogQueryLongerThan: -1}
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = defaultClassifier
	}
	return &Conn{
		raw:        raw,
		opts:       opts,
		classifier: classifier,
		listener:   &Collector{},
		release:    release,
	}
}

// Listener returns the exception listener of this lease.
func (c *Conn) Listener() ExceptionListener {
	return c.listener
}

// IsClosed reports whether the lease was released.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// String is answered locally and never reaches the underlying connection.
func (c *Conn) String() string {
	return fmt.Sprintf("proxy for: %v", c.raw)
}

// observe records err unless it is transient. It returns err unchanged.
func (c *Conn) observe(err error) error {
	if err == nil || errors.Is(err, driver.ErrSkip) {
		return err
	}
	if c.classifier.IsTransient(err) {
		return err
	}
	c.listener.AddException(err)
	return err
}

// Prepare implements driver.Conn.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext prepares query, going through the statement cache when
// one is configured.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}
	invoke := func() (driver.Stmt, error) {
		return c.observeStmt(c.prepareRaw(ctx, query))
	}

	if c.opts.Cache == nil {
		raw, err := invoke()
		if err != nil {
			return nil, err
		}
		return c.track(&Stmt{conn: c, raw: raw, query: query}), nil
	}

	entry, err := c.opts.Cache.Take(stmtcache.NewKey(c.raw, "PrepareContext", query), invoke)
	if err != nil {
		return nil, err
	}
	return c.track(&Stmt{conn: c, raw: entry.Stmt(), entry: entry, query: query}), nil
}

func (c *Conn) track(s *Stmt) *Stmt {
	c.stmts.Store(s, struct{}{})
	return s
}

func (c *Conn) prepareRaw(ctx context.Context, query string) (driver.Stmt, error) {
	if pc, ok := c.raw.(driver.ConnPrepareContext); ok {
		return pc.PrepareContext(ctx, query)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.raw.Prepare(query)
}

func (c *Conn) observeStmt(stmt driver.Stmt, err error) (driver.Stmt, error) {
	return stmt, c.observe(err)
}

// Close closes every statement still open on the lease, then releases it.
// Subsequent calls return nil.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.stmts.Range(func(k, _ any) bool {
		k.(*Stmt).Close()
		return true
	})
	if c.release == nil {
		return nil
	}
	return c.release(c.listener.Exceptions())
}

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}
	var (
		tx  driver.Tx
		err error
	)
	if bt, ok := c.raw.(driver.ConnBeginTx); ok {
		tx, err = bt.BeginTx(ctx, opts)
	} else if opts.Isolation != 0 || opts.ReadOnly {
		err = errors.New("proxy: driver does not support transaction options")
	} else {
		tx, err = c.raw.Begin()
	}
	if err != nil {
		return nil, c.observe(err)
	}
	return &Tx{conn: c, raw: tx}, nil
}

// ExecContext implements driver.ExecerContext. Drivers without direct
// execution get driver.ErrSkip so database/sql falls back to Prepare.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}
	ex, ok := c.raw.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := ex.ExecContext(ctx, query, args)
	c.opts.observeQuery(query, args, start, err)
	return res, c.observe(err)
}

// QueryContext implements driver.QueryerContext.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}
	q, ok := c.raw.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := q.QueryContext(ctx, query, args)
	c.opts.observeQuery(query, args, start, err)
	return c.wrapRows(rows, err)
}

// Ping implements driver.Pinger. Drivers without Ping are assumed alive.
func (c *Conn) Ping(ctx context.Context) error {
	if c.IsClosed() {
		return ErrConnClosed
	}
	p, ok := c.raw.(driver.Pinger)
	if !ok {
		return nil
	}
	return c.observe(p.Ping(ctx))
}

// Tx decorates a transaction so commit and rollback failures are recorded.
type Tx struct {
	conn *Conn
	raw  driver.Tx
}

// Commit implements driver.Tx.
func (t *Tx) Commit() error {
	if t.conn.IsClosed() {
		return ErrConnClosed
	}
	return t.conn.observe(t.raw.Commit())
}

// Rollback implements driver.Tx.
func (t *Tx) Rollback() error {
	if t.conn.IsClosed() {
		return ErrConnClosed
	}
	return t.conn.observe(t.raw.Rollback())
}
