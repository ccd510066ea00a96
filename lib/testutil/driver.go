// Package testutil provides an in-memory database/sql/driver implementation
// for exercising the pool, statement cache and invocation layer without a
// real database server.
package testutil

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("testutil: injected failure")

// SQLStateError is a driver error carrying a SQLSTATE code.
type SQLStateError struct {
	State   string
	Message string
}

func (e *SQLStateError) Error() string {
	return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.State)
}

// SQLState returns the SQLSTATE code.
func (e *SQLStateError) SQLState() string {
	return e.State
}

// Connector hands out fake connections and records every one it opened.
type Connector struct {
	mu    sync.Mutex
	conns []*Conn

	// failures is the number of upcoming Connect calls that fail.
	failures atomic.Int32
	opened   atomic.Int32
}

// NewConnector creates a connector that succeeds until told otherwise.
func NewConnector() *Connector {
	return &Connector{}
}

// FailNext makes the next n Connect calls return ErrInjected.
func (c *Connector) FailNext(n int) {
	c.failures.Store(int32(n))
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.failures.Load() > 0 {
		c.failures.Add(-1)
		return nil, ErrInjected
	}
	conn := &Conn{ID: int(c.opened.Add(1))}
	c.mu.Lock()
	c.conns = append(c.conns, conn)
	c.mu.Unlock()
	return conn, nil
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver {
	return fakeDriver{c}
}

// Opened returns the number of connections opened so far.
func (c *Connector) Opened() int {
	return int(c.opened.Load())
}

// Conns returns every connection opened so far, oldest first.
func (c *Connector) Conns() []*Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Conn(nil), c.conns...)
}

// Open returns the number of connections not yet closed.
func (c *Connector) Open() int {
	n := 0
	for _, conn := range c.Conns() {
		if !conn.Closed() {
			n++
		}
	}
	return n
}

type fakeDriver struct {
	c *Connector
}

func (d fakeDriver) Open(string) (driver.Conn, error) {
	return d.c.Connect(context.Background())
}

// Conn is a fake connection. Errors set on it are returned by the matching
// calls until cleared.
type Conn struct {
	ID int

	mu         sync.Mutex
	execErr    error
	queryErr   error
	rowsErr    error
	prepareErr error
	pingErr    error
	resetErr   error
	invalid    bool
	execs      []string

	closed   atomic.Bool
	prepared atomic.Int32
	pings    atomic.Int32
	resets   atomic.Int32
}

// SetExecErr makes ExecContext fail with err.
func (c *Conn) SetExecErr(err error) {
	c.mu.Lock()
	c.execErr = err
	c.mu.Unlock()
}

// SetQueryErr makes QueryContext fail with err.
func (c *Conn) SetQueryErr(err error) {
	c.mu.Lock()
	c.queryErr = err
	c.mu.Unlock()
}

// SetRowsErr makes Next and Close on result sets returned by QueryContext
// fail with err.
func (c *Conn) SetRowsErr(err error) {
	c.mu.Lock()
	c.rowsErr = err
	c.mu.Unlock()
}

// SetPrepareErr makes PrepareContext fail with err.
func (c *Conn) SetPrepareErr(err error) {
	c.mu.Lock()
	c.prepareErr = err
	c.mu.Unlock()
}

// SetPingErr makes Ping fail with err.
func (c *Conn) SetPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

// SetResetErr makes ResetSession fail with err.
func (c *Conn) SetResetErr(err error) {
	c.mu.Lock()
	c.resetErr = err
	c.mu.Unlock()
}

// SetInvalid makes IsValid report false.
func (c *Conn) SetInvalid(invalid bool) {
	c.mu.Lock()
	c.invalid = invalid
	c.mu.Unlock()
}

// Execs returns the statements executed directly on the connection.
func (c *Conn) Execs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...)
}

// Prepared returns the number of statements prepared on the connection.
func (c *Conn) Prepared() int { return int(c.prepared.Load()) }

// Pings returns the number of Ping calls.
func (c *Conn) Pings() int { return int(c.pings.Load()) }

// Resets returns the number of ResetSession calls.
func (c *Conn) Resets() int { return int(c.resets.Load()) }

// Closed reports whether Close was called.
func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) err(p *error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *p
}

// Prepare implements driver.Conn.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext implements driver.ConnPrepareContext.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if c.Closed() {
		return nil, driver.ErrBadConn
	}
	if err := c.err(&c.prepareErr); err != nil {
		return nil, err
	}
	c.prepared.Add(1)
	return &Stmt{SQL: query, conn: c}, nil
}

// Close implements driver.Conn.
func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx.
func (c *Conn) BeginTx(ctx context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.Closed() {
		return nil, driver.ErrBadConn
	}
	return fakeTx{}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *Conn) ExecContext(ctx context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if c.Closed() {
		return nil, driver.ErrBadConn
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.err(&c.execErr); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.execs = append(c.execs, query)
	c.mu.Unlock()
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *Conn) QueryContext(ctx context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if c.Closed() {
		return nil, driver.ErrBadConn
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.err(&c.queryErr); err != nil {
		return nil, err
	}
	return &Rows{err: c.err(&c.rowsErr)}, nil
}

// Ping implements driver.Pinger.
func (c *Conn) Ping(ctx context.Context) error {
	c.pings.Add(1)
	if c.Closed() {
		return driver.ErrBadConn
	}
	return c.err(&c.pingErr)
}

// ResetSession implements driver.SessionResetter.
func (c *Conn) ResetSession(ctx context.Context) error {
	c.resets.Add(1)
	return c.err(&c.resetErr)
}

// IsValid implements driver.Validator.
func (c *Conn) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.invalid && !c.closed.Load()
}

func (c *Conn) String() string {
	return fmt.Sprintf("testutil.Conn#%d", c.ID)
}

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

// Stmt is a fake prepared statement.
type Stmt struct {
	SQL  string
	conn *Conn

	mu       sync.Mutex
	execErr  error
	clearErr error

	closes atomic.Int32
	clears atomic.Int32
	execs  atomic.Int32
}

// NewStmt returns a standalone statement not bound to any connection.
func NewStmt(query string) *Stmt {
	return &Stmt{SQL: query}
}

// SetExecErr makes ExecContext and QueryContext fail with err.
func (s *Stmt) SetExecErr(err error) {
	s.mu.Lock()
	s.execErr = err
	s.mu.Unlock()
}

// SetClearErr makes ClearWarnings fail with err.
func (s *Stmt) SetClearErr(err error) {
	s.mu.Lock()
	s.clearErr = err
	s.mu.Unlock()
}

// Closes returns how many times Close was called.
func (s *Stmt) Closes() int { return int(s.closes.Load()) }

// Closed reports whether Close was called at least once.
func (s *Stmt) Closed() bool { return s.Closes() > 0 }

// Clears returns how many times ClearWarnings was called.
func (s *Stmt) Clears() int { return int(s.clears.Load()) }

// Execs returns how many times the statement was executed or queried.
func (s *Stmt) Execs() int { return int(s.execs.Load()) }

// Close implements driver.Stmt.
func (s *Stmt) Close() error {
	s.closes.Add(1)
	return nil
}

// NumInput implements driver.Stmt.
func (s *Stmt) NumInput() int { return -1 }

// Exec implements driver.Stmt.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), nil)
}

// Query implements driver.Stmt.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), nil)
}

// ExecContext implements driver.StmtExecContext.
func (s *Stmt) ExecContext(ctx context.Context, _ []driver.NamedValue) (driver.Result, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.StmtQueryContext.
func (s *Stmt) QueryContext(ctx context.Context, _ []driver.NamedValue) (driver.Rows, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return &Rows{}, nil
}

func (s *Stmt) check(ctx context.Context) error {
	s.execs.Add(1)
	if s.closes.Load() > 0 {
		return errors.New("testutil: statement is closed")
	}
	if s.conn != nil && s.conn.Closed() {
		return driver.ErrBadConn
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execErr
}

// ClearWarnings clears accumulated side effects.
func (s *Stmt) ClearWarnings() error {
	s.clears.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearErr
}

func (s *Stmt) String() string {
	return fmt.Sprintf("testutil.Stmt(%q)", s.SQL)
}

// Rows is an empty result set. A non-nil err is returned by Next and Close.
type Rows struct {
	err    error
	closed atomic.Bool
}

// Closed reports whether Close was called.
func (r *Rows) Closed() bool { return r.closed.Load() }

// Columns implements driver.Rows.
func (r *Rows) Columns() []string { return []string{"?column?"} }

// Close implements driver.Rows.
func (r *Rows) Close() error {
	r.closed.Store(true)
	return r.err
}

// Next implements driver.Rows.
func (r *Rows) Next(dest []driver.Value) error {
	if r.err != nil {
		return r.err
	}
	return io.EOF
}
