package proxy

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// Rows decorates a result set so failures while reading it are recorded
// with the owning connection.
type Rows struct {
	conn   *Conn
	raw    driver.Rows
	closed atomic.Bool
}

// Interface assertions
var (
	_ driver.Rows                           = (*Rows)(nil)
	_ driver.RowsNextResultSet              = (*Rows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*Rows)(nil)
	_ fmt.Stringer                          = (*Rows)(nil)
)

func (c *Conn) wrapRows(rows driver.Rows, err error) (driver.Rows, error) {
	if err != nil || rows == nil {
		return rows, c.observe(err)
	}
	return &Rows{conn: c, raw: rows}, nil
}

// String is answered locally.
func (r *Rows) String() string {
	return fmt.Sprintf("proxy for: %v", r.raw)
}

// Columns implements driver.Rows.
func (r *Rows) Columns() []string {
	return r.raw.Columns()
}

// Close implements driver.Rows. Subsequent calls return nil.
func (r *Rows) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.conn.observe(r.raw.Close())
}

// Next implements driver.Rows. io.EOF marks the end of the set and is not
// recorded.
func (r *Rows) Next(dest []driver.Value) error {
	if r.conn.IsClosed() {
		return ErrConnClosed
	}
	return r.observeRead(r.raw.Next(dest))
}

// HasNextResultSet implements driver.RowsNextResultSet.
func (r *Rows) HasNextResultSet() bool {
	nrs, ok := r.raw.(driver.RowsNextResultSet)
	return ok && nrs.HasNextResultSet()
}

// NextResultSet implements driver.RowsNextResultSet.
func (r *Rows) NextResultSet() error {
	if r.conn.IsClosed() {
		return ErrConnClosed
	}
	nrs, ok := r.raw.(driver.RowsNextResultSet)
	if !ok {
		return io.EOF
	}
	return r.observeRead(nrs.NextResultSet())
}

// ColumnTypeDatabaseTypeName implements driver.RowsColumnTypeDatabaseTypeName.
func (r *Rows) ColumnTypeDatabaseTypeName(index int) string {
	if ct, ok := r.raw.(driver.RowsColumnTypeDatabaseTypeName); ok {
		return ct.ColumnTypeDatabaseTypeName(index)
	}
	return ""
}

func (r *Rows) observeRead(err error) error {
	if errors.Is(err, io.EOF) {
		return err
	}
	return r.conn.observe(err)
}
