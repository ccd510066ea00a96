package stmtcache

import "github.com/go-i2p/dbcp/lib/metrics"

// RegisterMetrics exposes the cache counters through reg.
func (c *Cache) RegisterMetrics(reg *metrics.Registry) {
	reg.NewGaugeFunc(
		"dbcp_stmtcache_size",
		"Number of cached prepared statements",
		func() int64 { return int64(c.Len()) },
	)
	reg.NewCounterFunc(
		"dbcp_stmtcache_hits_total",
		"Total number of statement cache hits",
		c.hits.Load,
	)
	reg.NewCounterFunc(
		"dbcp_stmtcache_misses_total",
		"Total number of statement cache misses",
		c.misses.Load,
	)
	reg.NewCounterFunc(
		"dbcp_stmtcache_evictions_total",
		"Total number of statements evicted by capacity pressure",
		c.evictions.Load,
	)
	reg.NewCounterFunc(
		"dbcp_stmtcache_uncached_total",
		"Total number of statements handed out without caching",
		c.uncached.Load,
	)
}
