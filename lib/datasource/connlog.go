package datasource

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// ConnectionLogger receives connection acquisitions that took longer than
// logging.connection_longer_than. conn is nil when the acquisition failed.
// stack is set only when logging.stack_trace_for_long_connection is on.
type ConnectionLogger interface {
	LogGetConnection(pool string, conn driver.Conn, timeout, took time.Duration, stack []byte)
}

// ConnectionLoggerFunc adapts a function to ConnectionLogger.
type ConnectionLoggerFunc func(pool string, conn driver.Conn, timeout, took time.Duration, stack []byte)

// LogGetConnection calls f.
func (f ConnectionLoggerFunc) LogGetConnection(pool string, conn driver.Conn, timeout, took time.Duration, stack []byte) {
	f(pool, conn, timeout, took, stack)
}

// DefaultConnectionLogger writes slow acquisitions to the package logger.
func DefaultConnectionLogger() ConnectionLogger {
	return ConnectionLoggerFunc(func(pool string, conn driver.Conn, timeout, took time.Duration, stack []byte) {
		msg := fmt.Sprintf("acquiring a connection (timeout %s) took %dms", timeout, took.Milliseconds())
		if conn == nil {
			msg += ", no connection was obtained"
		}
		if len(stack) > 0 {
			log.WithField("pool", pool).
				WithField("stack", string(stack)).
				Warn(msg)
			return
		}
		log.WithField("pool", pool).Warn(msg)
	})
}
