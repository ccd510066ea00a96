package proxy

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/dbcp/lib/stmtcache"
	"github.com/go-i2p/dbcp/lib/testutil"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifierTransient(t *testing.T) {
	c := NewClassifier(nil)

	assert.True(t, c.IsTransient(context.Canceled))
	assert.True(t, c.IsTransient(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.True(t, c.IsTransient(timeoutErr{}))
	assert.True(t, c.IsTransient(Transient(errors.New("retry later"))))
	assert.False(t, c.IsTransient(errors.New("syntax error")))
	assert.False(t, c.IsTransient(nil))
	assert.Nil(t, Transient(nil))
}

func TestClassifierCritical(t *testing.T) {
	c := NewClassifier(nil)

	for _, state := range DefaultCriticalSQLStates {
		assert.True(t, c.IsCritical(&testutil.SQLStateError{State: state}), state)
	}
	assert.True(t, c.IsCritical(driver.ErrBadConn))
	assert.True(t, c.IsCritical(fmt.Errorf("exec: %w", &testutil.SQLStateError{State: "08s01"})))
	assert.False(t, c.IsCritical(&testutil.SQLStateError{State: "42601"}))
	assert.False(t, c.IsCritical(errors.New("plain")))
	assert.False(t, c.IsCritical(nil))

	custom := NewClassifier([]string{" 42601 ", ""})
	assert.True(t, custom.IsCritical(&testutil.SQLStateError{State: "42601"}))
	assert.False(t, custom.IsCritical(&testutil.SQLStateError{State: "08006"}))
	assert.Equal(t, []string{"42601"}, custom.States())

	assert.True(t, c.HasCritical([]error{errors.New("x"), driver.ErrBadConn}))
	assert.False(t, c.HasCritical([]error{errors.New("x")}))
}

func TestSQLState(t *testing.T) {
	assert.Equal(t, "57P01", SQLState(fmt.Errorf("wrapped: %w", &testutil.SQLStateError{State: "57P01"})))
	assert.Equal(t, "", SQLState(errors.New("plain")))
}

func TestCollector(t *testing.T) {
	var c Collector
	c.AddException(nil)
	c.AddException(errors.New("a"))
	c.AddException(errors.New("b"))

	errs := c.Exceptions()
	require.Len(t, errs, 2)
	assert.EqualError(t, errs[0], "a")

	errs[0] = nil
	assert.NotNil(t, c.Exceptions()[0], "Exceptions must return a copy")

	c.Clear()
	assert.Empty(t, c.Exceptions())
}

type released struct {
	calls int
	errs  []error
}

func (r *released) fn(errs []error) error {
	r.calls++
	r.errs = errs
	return nil
}

func TestConnRecordsNonTransientFailures(t *testing.T) {
	raw := &testutil.Conn{ID: 1}
	var rel released
	c := NewConn(raw, &Options{LogQueryLongerThan: -1}, rel.fn)
	ctx := context.Background()

	raw.SetExecErr(&testutil.SQLStateError{State: "42601", Message: "syntax error"})
	_, err := c.ExecContext(ctx, "SELEC 1", nil)
	require.Error(t, err)

	raw.SetExecErr(nil)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.ExecContext(cancelled, "SELECT 1", nil)
	assert.ErrorIs(t, err, context.Canceled)

	raw.SetQueryErr(driver.ErrBadConn)
	_, err = c.QueryContext(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, driver.ErrBadConn)

	errs := c.Listener().Exceptions()
	require.Len(t, errs, 2, "transient failures must not be remembered")
	assert.Equal(t, "42601", SQLState(errs[0]))
	assert.ErrorIs(t, errs[1], driver.ErrBadConn)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, rel.calls, "release must run exactly once")
	assert.Len(t, rel.errs, 2)
}

func TestConnAfterClose(t *testing.T) {
	c := NewConn(&testutil.Conn{ID: 1}, nil, nil)
	require.NoError(t, c.Close())
	ctx := context.Background()

	_, err := c.PrepareContext(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrConnClosed)
	_, err = c.ExecContext(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, ErrConnClosed)
	_, err = c.QueryContext(ctx, "SELECT 1", nil)
	assert.ErrorIs(t, err, ErrConnClosed)
	_, err = c.BeginTx(ctx, driver.TxOptions{})
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.ErrorIs(t, c.Ping(ctx), ErrConnClosed)
	assert.True(t, c.IsClosed())
}

func TestConnStringIsLocal(t *testing.T) {
	raw := &testutil.Conn{ID: 7}
	c := NewConn(raw, nil, nil)
	assert.Equal(t, "proxy for: testutil.Conn#7", c.String())
	assert.Empty(t, raw.Execs())

	other := NewConn(raw, nil, nil)
	assert.NotSame(t, c, other)
}

func TestConnPingAndTx(t *testing.T) {
	raw := &testutil.Conn{ID: 1}
	c := NewConn(raw, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	assert.Equal(t, 1, raw.Pings())

	tx, err := c.BeginTx(ctx, driver.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestTxAfterClose(t *testing.T) {
	c := NewConn(&testutil.Conn{ID: 1}, nil, nil)
	ctx := context.Background()

	commit, err := c.BeginTx(ctx, driver.TxOptions{})
	require.NoError(t, err)
	rollback, err := c.BeginTx(ctx, driver.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, commit.Commit(), ErrConnClosed)
	assert.ErrorIs(t, rollback.Rollback(), ErrConnClosed)
	assert.Empty(t, c.Listener().Exceptions())
}

func TestRowsFailuresAreRecorded(t *testing.T) {
	raw := &testutil.Conn{ID: 1}
	var rel released
	c := NewConn(raw, nil, rel.fn)
	ctx := context.Background()

	rows, err := c.QueryContext(ctx, "SELECT 1", nil)
	require.NoError(t, err)
	assert.IsType(t, &Rows{}, rows)
	assert.Equal(t, []string{"?column?"}, rows.Columns())
	assert.ErrorIs(t, rows.Next(nil), io.EOF)
	require.NoError(t, rows.Close())
	assert.Empty(t, c.Listener().Exceptions(), "end of rows is not a failure")

	raw.SetRowsErr(&testutil.SQLStateError{State: "08006", Message: "connection failure"})
	rows, err = c.QueryContext(ctx, "SELECT 1", nil)
	require.NoError(t, err)
	assert.Error(t, rows.Next(nil))
	assert.Error(t, rows.Close())
	require.NoError(t, rows.Close())

	st, err := c.PrepareContext(ctx, "SELECT 2")
	require.NoError(t, err)
	stmtRows, err := st.(driver.StmtQueryContext).QueryContext(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &Rows{}, stmtRows)

	errs := c.Listener().Exceptions()
	require.Len(t, errs, 2)
	assert.Equal(t, "08006", SQLState(errs[0]))
	assert.True(t, NewClassifier(nil).HasCritical(errs))

	require.NoError(t, c.Close())
	assert.Len(t, rel.errs, 2)
	assert.ErrorIs(t, stmtRows.Next(nil), ErrConnClosed)
}

func TestStmtWithoutCache(t *testing.T) {
	raw := &testutil.Conn{ID: 1}
	c := NewConn(raw, nil, nil)
	ctx := context.Background()

	st, err := c.PrepareContext(ctx, "SELECT 1")
	require.NoError(t, err)
	ps := st.(*Stmt)
	assert.False(t, ps.Cached())
	assert.True(t, strings.HasPrefix(ps.String(), "proxy for: "))

	_, err = ps.ExecContext(ctx, nil)
	require.NoError(t, err)
	_, err = ps.Exec(nil)
	require.NoError(t, err)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	_, err = ps.ExecContext(ctx, nil)
	assert.ErrorIs(t, err, ErrStmtClosed)
}

func TestStmtThroughCache(t *testing.T) {
	cache, err := stmtcache.New(4)
	require.NoError(t, err)
	defer cache.Close()

	raw := &testutil.Conn{ID: 1}
	opts := &Options{Cache: cache, ClearWarnings: true, LogQueryLongerThan: -1}
	ctx := context.Background()

	c1 := NewConn(raw, opts, nil)
	st1, err := c1.PrepareContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.True(t, st1.(*Stmt).Cached())

	// A second prepare of the same query while the first is open is uncached.
	st2, err := c1.PrepareContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.False(t, st2.(*Stmt).Cached())
	require.NoError(t, st2.Close())

	require.NoError(t, st1.Close())
	assert.Equal(t, 2, raw.Prepared())

	// The next lease over the same connection reuses the cached statement.
	c2 := NewConn(raw, opts, nil)
	st3, err := c2.PrepareContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.True(t, st3.(*Stmt).Cached())
	assert.Equal(t, 2, raw.Prepared())
	assert.Equal(t, uint64(1), cache.Stats().Hits)

	// Closing the lease hands open statements back to the cache.
	require.NoError(t, c2.Close())
	assert.Equal(t, 1, cache.Len())
	_, err = st3.(*Stmt).ExecContext(ctx, nil)
	assert.ErrorIs(t, err, ErrStmtClosed)

	c3 := NewConn(raw, opts, nil)
	st4, err := c3.PrepareContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.True(t, st4.(*Stmt).Cached(), "statement restored by lease close must be available again")
}

func TestStmtFailuresAreRecorded(t *testing.T) {
	raw := &testutil.Conn{ID: 1}
	c := NewConn(raw, nil, nil)
	ctx := context.Background()

	st, err := c.PrepareContext(ctx, "SELECT 1")
	require.NoError(t, err)
	st.(*Stmt).raw.(*testutil.Stmt).SetExecErr(&testutil.SQLStateError{State: "08006"})

	_, err = st.(*Stmt).QueryContext(ctx, nil)
	require.Error(t, err)
	require.Len(t, c.Listener().Exceptions(), 1)
	assert.True(t, NewClassifier(nil).HasCritical(c.Listener().Exceptions()))

	raw.SetPrepareErr(errors.New("prepare failed"))
	_, err = c.PrepareContext(ctx, "SELECT 2")
	require.Error(t, err)
	assert.Len(t, c.Listener().Exceptions(), 2)
}

func TestSlowQueryLogging(t *testing.T) {
	raw := &testutil.Conn{ID: 1}
	var logged []string
	opts := &Options{
		PoolName: "test",
		QueryLogger: QueryLoggerFunc(func(pool, query string, _ []driver.NamedValue, took time.Duration, err error) {
			assert.Equal(t, "test", pool)
			logged = append(logged, query)
		}),
		LogQueryLongerThan: 0,
	}
	c := NewConn(raw, opts, nil)
	ctx := context.Background()

	_, err := c.ExecContext(ctx, "SELECT 1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 1"}, logged)

	opts.LogQueryLongerThan = time.Hour
	_, err = c.ExecContext(ctx, "SELECT 2", nil)
	require.NoError(t, err)
	assert.Len(t, logged, 1)

	opts.LogQueryLongerThan = 0
	opts.QueryLogger = QueryLoggerFunc(func(string, string, []driver.NamedValue, time.Duration, error) {
		panic("logger")
	})
	assert.NotPanics(t, func() {
		_, err = c.QueryContext(ctx, "SELECT 3", nil)
	})
	assert.NoError(t, err)
}
