package proxy

import (
	"database/sql/driver"
	"time"
)

// QueryLogger receives statement executions that took longer than the
// configured threshold. It is purely observational.
type QueryLogger interface {
	LogQuery(pool, query string, args []driver.NamedValue, took time.Duration, err error)
}

// QueryLoggerFunc adapts a function to QueryLogger.
type QueryLoggerFunc func(pool, query string, args []driver.NamedValue, took time.Duration, err error)

// LogQuery calls f.
func (f QueryLoggerFunc) LogQuery(pool, query string, args []driver.NamedValue, took time.Duration, err error) {
	f(pool, query, args, took, err)
}

// DefaultQueryLogger writes slow queries to the package logger.
func DefaultQueryLogger() QueryLogger {
	return QueryLoggerFunc(func(pool, query string, args []driver.NamedValue, took time.Duration, err error) {
		if err != nil {
			log.WithField("pool", pool).
				WithField("query", query).
				WithField("took", took.String()).
				WithError(err).
				Warn("slow query failed")
			return
		}
		log.WithField("pool", pool).
			WithField("query", query).
			WithField("args", len(args)).
			WithField("took", took.String()).
			Warn("slow query")
	})
}

// observeQuery reports a finished execution to the query logger when it was
// slow enough. A panicking logger is contained.
func (o *Options) observeQuery(query string, args []driver.NamedValue, start time.Time, err error) {
	if o.QueryLogger == nil || o.LogQueryLongerThan < 0 {
		return
	}
	took := time.Since(start)
	if took < o.LogQueryLongerThan {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			log.WithField("panic", v).Warn("query logger panicked")
		}
	}()
	o.QueryLogger.LogQuery(o.PoolName, query, args, took, err)
}
