// Package datasource is the public face of dbcp. A DataSource owns a pool of
// driver connections, the optional prepared statement cache shared by them,
// the background reducer, and the circuit breaker guarding connection
// creation. Callers lease connections with Conn and give them back by
// closing the returned *proxy.Conn.
package datasource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-i2p/dbcp/lib/config"
	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/metrics"
	"github.com/go-i2p/dbcp/lib/pool"
	"github.com/go-i2p/dbcp/lib/proxy"
	"github.com/go-i2p/dbcp/lib/resilience"
	"github.com/go-i2p/dbcp/lib/stmtcache"
)

// State represents the data source lifecycle state.
type State string

const (
	// StateNew is the state before Start.
	StateNew State = "new"
	// StateWorking means connections can be leased.
	StateWorking State = "working"
	// StateTerminated is final.
	StateTerminated State = "terminated"
)

var (
	// ErrNotStarted is returned by Conn before Start.
	ErrNotStarted = apperrors.ErrNotStarted
	// ErrTerminated is returned by Conn after Terminate.
	ErrTerminated = apperrors.ErrDataSourceTerminated
)

// Option customizes a DataSource.
type Option func(*options)

type options struct {
	connector      driver.Connector
	connLogger     ConnectionLogger
	queryLogger    proxy.QueryLogger
	reduceObserver pool.ReduceObserver
	registry       *metrics.Registry
}

// WithConnector replaces the pgx connector built from datasource.dsn.
func WithConnector(c driver.Connector) Option {
	return func(o *options) {
		o.connector = c
	}
}

// WithConnectionLogger replaces the slow acquisition logger.
func WithConnectionLogger(l ConnectionLogger) Option {
	return func(o *options) {
		o.connLogger = l
	}
}

// WithQueryLogger replaces the slow query logger.
func WithQueryLogger(l proxy.QueryLogger) Option {
	return func(o *options) {
		o.queryLogger = l
	}
}

// WithReduceObserver receives the outcome of every reducer run.
func WithReduceObserver(obs pool.ReduceObserver) Option {
	return func(o *options) {
		o.reduceObserver = obs
	}
}

// WithMetricsRegistry registers the data source metrics with reg instead of
// a private registry labelled with the pool name.
func WithMetricsRegistry(reg *metrics.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// DataSource hands out pooled, proxied connections.
type DataSource struct {
	cfg  config.Config
	opts options

	mu    sync.Mutex
	state State

	factory    *connFactory
	pool       *pool.Pool[driver.Conn]
	reducer    *pool.Reducer
	cache      *stmtcache.Cache
	breaker    *resilience.Breaker
	classifier *proxy.Classifier
	proxyOpts  *proxy.Options

	registry        *metrics.Registry
	acquireLatency  *metrics.Histogram
	slowAcquires    *metrics.Counter
	invalidations   *metrics.Counter
	failedReleases  *metrics.Counter
	criticalReports *metrics.Counter
}

// New validates cfg and builds a data source in StateNew. Nothing is
// connected until Start.
func New(cfg *config.Config, opts ...Option) (*DataSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", apperrors.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ds := &DataSource{cfg: *cfg, state: StateNew}
	for _, opt := range opts {
		opt(&ds.opts)
	}
	if ds.opts.connector == nil {
		c, err := pgxConnector(cfg.DataSource.DSN)
		if err != nil {
			return nil, err
		}
		ds.opts.connector = c
	}
	if ds.opts.connLogger == nil {
		ds.opts.connLogger = DefaultConnectionLogger()
	}
	if ds.opts.queryLogger == nil {
		ds.opts.queryLogger = proxy.DefaultQueryLogger()
	}
	if ds.opts.reduceObserver == nil {
		ds.opts.reduceObserver = pool.LogObserver(cfg.DataSource.Name)
	}
	ds.registry = ds.opts.registry
	if ds.registry == nil {
		ds.registry = metrics.NewRegistry(map[string]string{"pool": cfg.DataSource.Name})
	}

	states := cfg.DataSource.CriticalSQLStates
	if len(states) == 0 {
		states = nil
	}
	ds.classifier = proxy.NewClassifier(states)
	return ds, nil
}

// Open is New followed by Start.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*DataSource, error) {
	ds, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := ds.Start(ctx); err != nil {
		return nil, err
	}
	return ds, nil
}

// Start builds the cache, breaker, pool and reducer and fills the pool to
// its initial size. It moves the data source from StateNew to StateWorking.
// If the initial fill fails the data source is terminated.
func (ds *DataSource) Start(ctx context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.state != StateNew {
		return fmt.Errorf("%w: cannot start data source in state %s", apperrors.ErrInvalidState, ds.state)
	}

	cfg := ds.cfg
	name := cfg.DataSource.Name

	if cfg.StatementCacheEnabled() {
		cache, err := stmtcache.New(cfg.StatementCache.MaxSize)
		if err != nil {
			return err
		}
		ds.cache = cache
	}
	if cfg.Breaker.FailureThreshold > 0 {
		ds.breaker = resilience.New(name, resilience.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Timeout:          cfg.Breaker.Timeout.D(),
		})
	}

	ds.factory = &connFactory{
		name:      name,
		connector: ds.opts.connector,
		breaker:   ds.breaker,
		cache:     ds.cache,
		initSQL:   cfg.DataSource.InitSQL,
		testQuery: cfg.DataSource.TestConnectionQuery,
		idleLimit: cfg.DataSource.ConnectionIdleLimit.D(),
	}
	ds.proxyOpts = &proxy.Options{
		PoolName:           name,
		Cache:              ds.cache,
		ClearWarnings:      cfg.StatementCache.ClearWarnings,
		Classifier:         ds.classifier,
		QueryLogger:        ds.opts.queryLogger,
		LogQueryLongerThan: cfg.Logging.QueryExecutionLongerThan.D(),
	}

	p, err := pool.New[driver.Conn](ctx, ds.factory, pool.Config{
		Name:                name,
		InitialSize:         cfg.Pool.InitialSize,
		MaxSize:             cfg.Pool.MaxSize,
		Fair:                cfg.Pool.Fair,
		EnableTracking:      cfg.Pool.EnableConnectionTracking,
		CreateRetryAttempts: cfg.Pool.AcquireRetryAttempts,
		CreateRetryDelay:    cfg.Pool.AcquireRetryDelay.D(),
	})
	if err != nil {
		if ds.cache != nil {
			ds.cache.Close()
		}
		ds.state = StateTerminated
		return fmt.Errorf("starting data source %s: %w", name, err)
	}
	ds.pool = p

	if cfg.ReducerEnabled() {
		r, err := pool.NewReducer(p, cfg.Reducer.Interval.D(), cfg.Reducer.Samples, ds.opts.reduceObserver)
		if err != nil {
			p.Terminate()
			if ds.cache != nil {
				ds.cache.Close()
			}
			ds.state = StateTerminated
			return err
		}
		ds.reducer = r
		r.Start()
	}

	ds.registerMetrics()
	ds.state = StateWorking
	log.WithField("pool", name).
		WithField("initialSize", cfg.Pool.InitialSize).
		WithField("maxSize", cfg.Pool.MaxSize).
		WithField("statementCache", cfg.StatementCache.MaxSize).
		WithField("reducer", cfg.ReducerEnabled()).
		Info("data source started")
	return nil
}

func (ds *DataSource) registerMetrics() {
	ds.pool.RegisterMetrics(ds.registry)
	if ds.cache != nil {
		ds.cache.RegisterMetrics(ds.registry)
	}
	if ds.breaker != nil {
		ds.breaker.RegisterMetrics(ds.registry)
	}
	ds.acquireLatency = ds.registry.NewHistogram(
		"dbcp_acquire_duration_seconds",
		"Time spent acquiring a connection",
		metrics.DefaultLatencyBuckets,
	)
	ds.slowAcquires = ds.registry.NewCounter(
		"dbcp_acquire_slow_total",
		"Total number of acquisitions slower than the logging threshold",
	)
	ds.invalidations = ds.registry.NewCounter(
		"dbcp_pool_invalidations_total",
		"Total number of times the whole pool was invalidated",
	)
	ds.failedReleases = ds.registry.NewCounter(
		"dbcp_release_failed_total",
		"Total number of connections destroyed on release because a call on them failed",
	)
	ds.criticalReports = ds.registry.NewCounter(
		"dbcp_release_critical_total",
		"Total number of released connections that reported a critical failure",
	)
}

// Name returns the data source name.
func (ds *DataSource) Name() string {
	return ds.cfg.DataSource.Name
}

// State returns the current lifecycle state.
func (ds *DataSource) State() State {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.state
}

// Config returns a copy of the configuration in use.
func (ds *DataSource) Config() config.Config {
	return ds.cfg
}

// Metrics returns the registry holding the data source metrics.
func (ds *DataSource) Metrics() *metrics.Registry {
	return ds.registry
}

func (ds *DataSource) checkWorking() error {
	switch ds.State() {
	case StateWorking:
		return nil
	case StateNew:
		return ErrNotStarted
	default:
		return ErrTerminated
	}
}

// Conn leases a connection. With pool.connection_timeout zero it waits until
// one is available or ctx is done; otherwise it fails with pool.ErrTimeout
// after the timeout.
func (ds *DataSource) Conn(ctx context.Context) (*proxy.Conn, error) {
	return ds.ConnTimeout(ctx, ds.cfg.Pool.ConnectionTimeout.D())
}

// ConnTimeout leases a connection waiting at most timeout. Zero waits
// without limit.
func (ds *DataSource) ConnTimeout(ctx context.Context, timeout time.Duration) (*proxy.Conn, error) {
	if err := ds.checkWorking(); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		h   *pool.Holder[driver.Conn]
		err error
	)
	if timeout == 0 {
		h, err = ds.pool.Take(ctx)
	} else {
		h, err = ds.pool.TryTake(ctx, timeout)
	}
	took := time.Since(start)
	ds.acquireLatency.ObserveDuration(took)

	var raw driver.Conn
	if err == nil {
		raw = h.Value()
	}
	ds.logAcquire(raw, timeout, took)

	if err != nil {
		if ds.pool.IsTerminated() {
			return nil, fmt.Errorf("%w: %w", ErrTerminated, err)
		}
		return nil, err
	}
	return proxy.NewConn(raw, ds.proxyOpts, ds.releaser(h)), nil
}

func (ds *DataSource) logAcquire(conn driver.Conn, timeout, took time.Duration) {
	threshold := ds.cfg.Logging.ConnectionLongerThan.D()
	if threshold < 0 || took < threshold {
		return
	}
	ds.slowAcquires.Inc()

	var stack []byte
	if ds.cfg.Logging.StackTraceForLongConnection {
		stack = debug.Stack()
	}
	defer func() {
		if v := recover(); v != nil {
			log.WithField("pool", ds.Name()).WithField("panic", v).Warn("connection logger panicked")
		}
	}()
	ds.opts.connLogger.LogGetConnection(ds.Name(), conn, timeout, took, stack)
}

// releaser returns the callback run by the proxy when the lease is closed.
// A lease that recorded no failure goes back to the pool; any recorded
// failure destroys the connection, and a critical one also invalidates every
// connection created under the same version.
func (ds *DataSource) releaser(h *pool.Holder[driver.Conn]) proxy.ReleaseFunc {
	return func(errs []error) error {
		ctx := context.Background()
		if len(errs) == 0 {
			return ds.pool.Restore(ctx, h, true)
		}

		ds.failedReleases.Inc()
		if ds.classifier.HasCritical(errs) {
			ds.criticalReports.Inc()
			if ds.factory.CompareAndSetVersion(h.Version(), h.Version()+1) {
				ds.invalidations.Inc()
				log.WithField("pool", ds.Name()).
					WithField("version", h.Version()+1).
					WithError(errs[len(errs)-1]).
					Warn("critical failure reported, invalidating all connections")
			}
		}
		return ds.pool.Restore(ctx, h, false)
	}
}

// Terminate stops the data source. From StateNew it only changes state;
// otherwise it closes the statement cache, stops the reducer and
// terminates the pool. Later calls are no-ops.
func (ds *DataSource) Terminate() {
	ds.mu.Lock()
	prev := ds.state
	ds.state = StateTerminated
	ds.mu.Unlock()

	if prev != StateWorking {
		return
	}
	if ds.cache != nil {
		ds.cache.Close()
	}
	if ds.reducer != nil {
		ds.reducer.Terminate()
	}
	ds.pool.Terminate()
	log.WithField("pool", ds.Name()).Info("data source terminated")
}

// Close implements io.Closer by calling Terminate.
func (ds *DataSource) Close() error {
	ds.Terminate()
	return nil
}

// Connect implements driver.Connector so a DataSource can back a *sql.DB.
func (ds *DataSource) Connect(ctx context.Context) (driver.Conn, error) {
	c, err := ds.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Driver implements driver.Connector.
func (ds *DataSource) Driver() driver.Driver {
	return connectorDriver{ds}
}

type connectorDriver struct {
	ds *DataSource
}

func (d connectorDriver) Open(string) (driver.Conn, error) {
	return d.ds.Connect(context.Background())
}

// DB returns a *sql.DB drawing its connections from ds. database/sql keeps
// no idle connections of its own, so every closed *sql.Conn goes straight
// back to the pool.
func (ds *DataSource) DB() *sql.DB {
	db := sql.OpenDB(ds)
	db.SetMaxIdleConns(0)
	return db
}
