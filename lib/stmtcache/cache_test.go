package stmtcache

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/metrics"
	"github.com/go-i2p/dbcp/lib/testutil"
)

func prepare(query string) (Invoker, func() []*testutil.Stmt) {
	var mu sync.Mutex
	var made []*testutil.Stmt
	inv := func() (driver.Stmt, error) {
		s := testutil.NewStmt(query)
		mu.Lock()
		made = append(made, s)
		mu.Unlock()
		return s, nil
	}
	return inv, func() []*testutil.Stmt {
		mu.Lock()
		defer mu.Unlock()
		return append([]*testutil.Stmt(nil), made...)
	}
}

func newCache(t *testing.T, size int) *Cache {
	t.Helper()
	c, err := New(size)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewRejectsBadSize(t *testing.T) {
	for _, size := range []int{0, -1, MaxSize + 1} {
		_, err := New(size)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "size %d", size)
	}
	c, err := New(MaxSize)
	require.NoError(t, err)
	assert.Equal(t, MaxSize, c.MaxSize())
}

func TestNewKeyIsStable(t *testing.T) {
	conn := &testutil.Conn{ID: 1}
	other := &testutil.Conn{ID: 2}

	assert.Equal(t, NewKey(conn, "Prepare", "SELECT 1"), NewKey(conn, "Prepare", "SELECT 1"))
	assert.NotEqual(t, NewKey(conn, "Prepare", "SELECT 1"), NewKey(other, "Prepare", "SELECT 1"))
	assert.NotEqual(t, NewKey(conn, "Prepare", "SELECT 1"), NewKey(conn, "PrepareContext", "SELECT 1"))
	assert.NotEqual(t, NewKey(conn, "Prepare", 1), NewKey(conn, "Prepare", "1"))
	assert.Contains(t, NewKey(conn, "Prepare", "SELECT 1").String(), "Prepare(string:SELECT 1)")
}

func TestTakeHitAfterRestore(t *testing.T) {
	c := newCache(t, 4)
	key := NewKey(&testutil.Conn{ID: 1}, "Prepare", "SELECT 1")
	inv, made := prepare("SELECT 1")

	e1, err := c.Take(key, inv)
	require.NoError(t, err)
	assert.True(t, e1.Cached())
	assert.Equal(t, InUse, e1.State())

	c.Restore(e1, false)
	assert.Equal(t, Available, e1.State())

	e2, err := c.Take(key, inv)
	require.NoError(t, err)
	assert.Same(t, e1, e2)
	assert.Len(t, made(), 1)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestTakeConcurrentSameKey(t *testing.T) {
	c := newCache(t, 4)
	key := NewKey(&testutil.Conn{ID: 1}, "Prepare", "SELECT 1")
	inv, made := prepare("SELECT 1")

	first, err := c.Take(key, inv)
	require.NoError(t, err)
	second, err := c.Take(key, inv)
	require.NoError(t, err)

	assert.True(t, first.Cached())
	assert.False(t, second.Cached(), "second taker must get an uncached statement")
	assert.NotSame(t, first.Stmt(), second.Stmt())
	assert.Len(t, made(), 2)
	assert.Equal(t, uint64(1), c.Stats().Uncached)

	// Restoring an uncached entry is a no-op; closing it closes the statement.
	c.Restore(second, false)
	assert.False(t, made()[1].Closed())
	require.NoError(t, second.Close())
	assert.True(t, made()[1].Closed())
	assert.False(t, made()[0].Closed())
}

func TestTakeRaceInstallsOnce(t *testing.T) {
	c := newCache(t, 8)
	key := NewKey(&testutil.Conn{ID: 1}, "Prepare", "SELECT 1")
	inv, _ := prepare("SELECT 1")

	const takers = 16
	entries := make([]*Entry, takers)
	var wg sync.WaitGroup
	for i := 0; i < takers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := c.Take(key, inv)
			assert.NoError(t, err)
			entries[i] = e
		}(i)
	}
	wg.Wait()

	cached := 0
	for _, e := range entries {
		if e.Cached() {
			cached++
		}
	}
	assert.Equal(t, 1, cached, "exactly one taker may hold the cached statement")
	assert.Equal(t, 1, c.Len())
}

func TestTakeInvokerError(t *testing.T) {
	c := newCache(t, 2)
	key := NewKey(&testutil.Conn{ID: 1}, "Prepare", "SELECT 1")

	_, err := c.Take(key, func() (driver.Stmt, error) { return nil, testutil.ErrInjected })
	assert.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, 0, c.Len())
}

func TestEvictionClosesAvailableVictim(t *testing.T) {
	c := newCache(t, 2)
	conn := &testutil.Conn{ID: 1}
	var stmts []*testutil.Stmt
	var keys []Key

	for i := 0; i < 2; i++ {
		q := fmt.Sprintf("SELECT %d", i)
		key := NewKey(conn, "Prepare", q)
		inv, made := prepare(q)
		e, err := c.Take(key, inv)
		require.NoError(t, err)
		c.Restore(e, false)
		stmts = append(stmts, made()[0])
		keys = append(keys, key)
	}

	// Touch the first key so the second becomes least recently used.
	e, err := c.Take(keys[0], nil)
	require.NoError(t, err)
	c.Restore(e, false)

	inv, _ := prepare("SELECT 2")
	_, err = c.Take(NewKey(conn, "Prepare", "SELECT 2"), inv)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.False(t, stmts[0].Closed())
	assert.True(t, stmts[1].Closed(), "least recently used statement must be evicted and closed")
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestEvictionOfInUseVictim(t *testing.T) {
	c := newCache(t, 1)
	conn := &testutil.Conn{ID: 1}

	inv1, made1 := prepare("SELECT 1")
	victim, err := c.Take(NewKey(conn, "Prepare", "SELECT 1"), inv1)
	require.NoError(t, err)

	inv2, _ := prepare("SELECT 2")
	_, err = c.Take(NewKey(conn, "Prepare", "SELECT 2"), inv2)
	require.NoError(t, err)

	assert.Equal(t, Evicted, victim.State())
	assert.False(t, made1()[0].Closed(), "in-use victim must stay open until restored")

	c.Restore(victim, false)
	assert.Equal(t, 1, made1()[0].Closes(), "in-use victim must be closed exactly once on restore")
	assert.Equal(t, Evicted, victim.State())
}

func TestRestoreClearWarningsFailure(t *testing.T) {
	c := newCache(t, 2)
	key := NewKey(&testutil.Conn{ID: 1}, "Prepare", "SELECT 1")
	inv, made := prepare("SELECT 1")

	e, err := c.Take(key, inv)
	require.NoError(t, err)
	made()[0].SetClearErr(testutil.ErrInjected)

	c.Restore(e, true)

	assert.Equal(t, 1, made()[0].Clears())
	assert.True(t, made()[0].Closed())
	assert.Equal(t, Evicted, e.State())
	assert.Equal(t, 0, c.Len())
}

func TestRestoreClearsWarnings(t *testing.T) {
	c := newCache(t, 2)
	key := NewKey(&testutil.Conn{ID: 1}, "Prepare", "SELECT 1")
	inv, made := prepare("SELECT 1")

	e, err := c.Take(key, inv)
	require.NoError(t, err)
	c.Restore(e, true)
	assert.Equal(t, 1, made()[0].Clears())
	assert.Equal(t, Available, e.State())

	e, err = c.Take(key, inv)
	require.NoError(t, err)
	c.Restore(e, false)
	assert.Equal(t, 1, made()[0].Clears(), "clearing is skipped when not requested")
}

func TestRemove(t *testing.T) {
	c := newCache(t, 4)
	conn := &testutil.Conn{ID: 1}
	inv, made := prepare("SELECT 1")

	e, err := c.Take(NewKey(conn, "Prepare", "SELECT 1"), inv)
	require.NoError(t, err)
	c.Restore(e, false)

	assert.True(t, c.Remove(made()[0]))
	assert.False(t, c.Remove(made()[0]))
	assert.False(t, c.Remove(testutil.NewStmt("other")))
	assert.Equal(t, 0, c.Len())
	assert.True(t, made()[0].Closed())
}

func TestRemoveAll(t *testing.T) {
	c := newCache(t, 10)
	conn := &testutil.Conn{ID: 1}
	other := &testutil.Conn{ID: 2}

	var owned []*testutil.Stmt
	var inUse *Entry
	for i := 0; i < 3; i++ {
		q := fmt.Sprintf("SELECT %d", i)
		inv, made := prepare(q)
		e, err := c.Take(NewKey(conn, "Prepare", q), inv)
		require.NoError(t, err)
		if i == 0 {
			inUse = e
		} else {
			c.Restore(e, false)
		}
		owned = append(owned, made()[0])
	}
	inv, made := prepare("SELECT 1")
	e, err := c.Take(NewKey(other, "Prepare", "SELECT 1"), inv)
	require.NoError(t, err)
	c.Restore(e, false)

	assert.Equal(t, 3, c.RemoveAll(conn))
	assert.Equal(t, 1, c.Len())
	for _, key := range c.entries.Keys() {
		assert.NotEqual(t, conn, key.Conn)
	}
	for _, s := range owned {
		assert.Equal(t, 1, s.Closes())
	}
	assert.False(t, made()[0].Closed())

	// The in-use statement was closed already; restoring must not close it again.
	c.Restore(inUse, false)
	assert.Equal(t, 1, owned[0].Closes())
}

func TestClose(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)
	conn := &testutil.Conn{ID: 1}

	inv1, made1 := prepare("SELECT 1")
	idle, err := c.Take(NewKey(conn, "Prepare", "SELECT 1"), inv1)
	require.NoError(t, err)
	c.Restore(idle, false)

	inv2, made2 := prepare("SELECT 2")
	leased, err := c.Take(NewKey(conn, "Prepare", "SELECT 2"), inv2)
	require.NoError(t, err)

	c.Close()
	c.Close()

	assert.True(t, c.IsClosed())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, made1()[0].Closes())
	assert.Equal(t, 1, made2()[0].Closes())

	c.Restore(leased, false)
	assert.Equal(t, 1, made2()[0].Closes(), "statement close is idempotent")
	assert.Equal(t, Evicted, leased.State())

	// A closed cache delegates straight to the invoker.
	inv3, made3 := prepare("SELECT 1")
	e, err := c.Take(NewKey(conn, "Prepare", "SELECT 1"), inv3)
	require.NoError(t, err)
	assert.False(t, e.Cached())
	assert.Len(t, made3(), 1)
	assert.Equal(t, 0, c.Len())
}

func TestCacheMetrics(t *testing.T) {
	c := newCache(t, 2)
	reg := metrics.NewRegistry(map[string]string{"pool": "test"})
	c.RegisterMetrics(reg)

	key := NewKey(&testutil.Conn{ID: 1}, "Prepare", "SELECT 1")
	inv, _ := prepare("SELECT 1")
	e, err := c.Take(key, inv)
	require.NoError(t, err)
	c.Restore(e, false)

	out := reg.Expose()
	assert.Contains(t, out, `dbcp_stmtcache_misses_total{pool="test"} 1`)
	assert.Contains(t, out, `dbcp_stmtcache_size{pool="test"} 1`)
	assert.True(t, strings.Contains(out, "dbcp_stmtcache_hits_total"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "available", Available.String())
	assert.Equal(t, "in_use", InUse.String())
	assert.Equal(t, "evicted", Evicted.String())
}
