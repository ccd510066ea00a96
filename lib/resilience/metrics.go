package resilience

import (
	"github.com/go-i2p/dbcp/lib/metrics"
)

// RegisterMetrics exposes the breaker through reg.
// dbcp_breaker_state is 0 when closed, 1 when open and 2 when half-open.
func (b *Breaker) RegisterMetrics(reg *metrics.Registry) {
	reg.NewGaugeFunc(
		"dbcp_breaker_state",
		"Current state of the connection creation circuit breaker (0=closed, 1=open, 2=half-open)",
		func() int64 { return int64(b.State()) },
	)
	reg.NewCounterFunc(
		"dbcp_breaker_trips_total",
		"Total number of times the circuit breaker opened",
		b.trips.Load,
	)
	reg.NewCounterFunc(
		"dbcp_breaker_successes_total",
		"Total successful connection creations through the circuit breaker",
		b.successes.Load,
	)
	reg.NewCounterFunc(
		"dbcp_breaker_failures_total",
		"Total failed connection creations through the circuit breaker",
		b.failures.Load,
	)
	reg.NewCounterFunc(
		"dbcp_breaker_rejections_total",
		"Total connection creations rejected by the open circuit breaker",
		b.rejections.Load,
	)
}
