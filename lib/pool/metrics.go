package pool

import "github.com/go-i2p/dbcp/lib/metrics"

// RegisterMetrics exposes the pool's utilization through reg. Values are read
// at exposition time, so nothing on the take/restore path touches the
// registry.
func (p *Pool[T]) RegisterMetrics(reg *metrics.Registry) {
	reg.NewGaugeFunc(
		"dbcp_pool_connections_max",
		"Maximum number of connections in the pool",
		func() int64 { return int64(p.MaxSize()) },
	)
	reg.NewGaugeFunc(
		"dbcp_pool_connections_open",
		"Current number of open connections",
		func() int64 { return int64(p.CreatedTotal()) },
	)
	reg.NewGaugeFunc(
		"dbcp_pool_connections_idle",
		"Current number of idle connections in the pool",
		func() int64 { return int64(p.RemainingCreated()) },
	)
	reg.NewGaugeFunc(
		"dbcp_pool_connections_in_use",
		"Number of connections currently in use",
		func() int64 { return int64(p.TakenCount()) },
	)
	reg.NewGaugeFunc(
		"dbcp_pool_version",
		"Current factory version; increases on mass invalidation",
		func() int64 { return p.factory.Version() },
	)
	reg.NewCounterFunc(
		"dbcp_pool_acquire_total",
		"Total number of connection acquire attempts",
		p.takeCount.Load,
	)
	reg.NewCounterFunc(
		"dbcp_pool_acquire_success_total",
		"Total number of successful connection acquires",
		p.takeSuccess.Load,
	)
	reg.NewCounterFunc(
		"dbcp_pool_acquire_timeouts_total",
		"Total number of acquires that timed out",
		p.takeTimeouts.Load,
	)
	reg.NewCounterFunc(
		"dbcp_pool_create_failures_total",
		"Total number of connection creations that failed after all retries",
		p.createFailures.Load,
	)
	reg.NewCounterFunc(
		"dbcp_pool_destroyed_total",
		"Total number of destroyed connections",
		p.destroyedCount.Load,
	)
	reg.NewCounterFunc(
		"dbcp_pool_validation_fails_total",
		"Total number of idle connections that failed validation on take",
		p.validationFails.Load,
	)
}
