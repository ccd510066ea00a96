package stmtcache

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Key identifies a prepared statement by the connection that prepared it
// and the preparing call. Two keys built from identical calls on the same
// connection compare equal.
type Key struct {
	Conn   driver.Conn
	Method string
	Args   string
}

// NewKey builds a key for method invoked on conn with args. Arguments are
// canonicalised by type and %v formatting.
func NewKey(conn driver.Conn, method string, args ...any) Key {
	var b strings.Builder
	for i, a := range args {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		fmt.Fprintf(&b, "%T:%v", a, a)
	}
	return Key{Conn: conn, Method: method, Args: b.String()}
}

func (k Key) String() string {
	return fmt.Sprintf("%p.%s(%s)", k.Conn, k.Method, strings.ReplaceAll(k.Args, "\x1f", ", "))
}
