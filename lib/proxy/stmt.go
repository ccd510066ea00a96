package proxy

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-i2p/dbcp/lib/stmtcache"
)

// Stmt decorates a prepared statement. Closing it hands a cached statement
// back to the cache instead of closing it.
type Stmt struct {
	conn   *Conn
	raw    driver.Stmt
	entry  *stmtcache.Entry // nil when caching is disabled
	query  string
	closed atomic.Bool
}

// Interface assertions
var (
	_ driver.Stmt             = (*Stmt)(nil)
	_ driver.StmtExecContext  = (*Stmt)(nil)
	_ driver.StmtQueryContext = (*Stmt)(nil)
	_ fmt.Stringer            = (*Stmt)(nil)
)

// String is answered locally.
func (s *Stmt) String() string {
	return fmt.Sprintf("proxy for: %v", s.raw)
}

// Cached reports whether the statement is held by the statement cache.
func (s *Stmt) Cached() bool {
	return s.entry != nil && s.entry.Cached()
}

func (s *Stmt) check() error {
	if s.closed.Load() {
		return ErrStmtClosed
	}
	if s.conn.IsClosed() {
		return ErrConnClosed
	}
	return nil
}

// Close returns a cached statement to the cache or closes an uncached one.
// Subsequent calls return nil.
func (s *Stmt) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.conn.stmts.Delete(s)
	switch {
	case s.entry == nil:
		return s.conn.observe(s.raw.Close())
	case s.entry.Cached():
		s.conn.opts.Cache.Restore(s.entry, s.conn.opts.ClearWarnings)
		return nil
	default:
		return s.conn.observe(s.entry.Close())
	}
}

// NumInput implements driver.Stmt.
func (s *Stmt) NumInput() int {
	return s.raw.NumInput()
}

// Exec implements driver.Stmt.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

// Query implements driver.Stmt.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

// ExecContext implements driver.StmtExecContext.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if ex, ok := s.raw.(driver.StmtExecContext); ok {
		res, err = ex.ExecContext(ctx, args)
	} else {
		var values []driver.Value
		if values, err = plainValues(args); err == nil {
			if err = ctx.Err(); err == nil {
				res, err = s.raw.Exec(values)
			}
		}
	}
	s.conn.opts.observeQuery(s.query, args, start, err)
	return res, s.conn.observe(err)
}

// QueryContext implements driver.StmtQueryContext.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if q, ok := s.raw.(driver.StmtQueryContext); ok {
		rows, err = q.QueryContext(ctx, args)
	} else {
		var values []driver.Value
		if values, err = plainValues(args); err == nil {
			if err = ctx.Err(); err == nil {
				rows, err = s.raw.Query(values)
			}
		}
	}
	s.conn.opts.observeQuery(s.query, args, start, err)
	return s.conn.wrapRows(rows, err)
}

func namedValues(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

func plainValues(args []driver.NamedValue) ([]driver.Value, error) {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		if a.Name != "" {
			return nil, errors.New("proxy: driver does not support named parameters")
		}
		out[i] = a.Value
	}
	return out, nil
}
