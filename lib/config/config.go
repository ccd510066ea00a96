// Package config holds the TOML configuration of a dbcp data source.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-i2p/logger"
	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/validation"
)

var log = logger.GetGoI2PLogger()

// Default configuration values.
const (
	DefaultName                    = "dbcp"
	DefaultPoolInitialSize         = 10
	DefaultPoolMaxSize             = 100
	DefaultConnectionTimeout       = 15 * time.Second
	DefaultAcquireRetryAttempts    = 3
	DefaultAcquireRetryDelay       = time.Second
	DefaultConnectionIdleLimit     = 5 * time.Second
	DefaultReducerInterval         = 60 * time.Second
	DefaultReducerSamples          = 20
	DefaultLogConnectionLongerThan = 3 * time.Second
	DefaultLogQueryLongerThan      = 3 * time.Second
	DefaultBreakerTimeout          = 30 * time.Second
	DefaultLogLevel                = "info"

	// MaxStatementCacheSize caps statement_cache.max_size.
	MaxStatementCacheSize = 1000
)

// Duration is a time.Duration that reads and writes TOML strings such as
// "15s" or "500ms".
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the complete configuration of one data source.
type Config struct {
	DataSource     DataSourceConfig     `toml:"datasource"`
	Pool           PoolConfig           `toml:"pool"`
	Reducer        ReducerConfig        `toml:"reducer"`
	StatementCache StatementCacheConfig `toml:"statement_cache"`
	Logging        LoggingConfig        `toml:"logging"`
	Breaker        BreakerConfig        `toml:"breaker"`
	Admin          AdminConfig          `toml:"admin"`
}

// DataSourceConfig describes how connections are made and checked.
type DataSourceConfig struct {
	// Name identifies the data source in logs and metrics.
	Name string `toml:"name"`
	// DSN is handed to the driver. It is never logged.
	DSN string `toml:"dsn"`
	// InitSQL runs once on every new connection.
	InitSQL string `toml:"init_sql,omitempty"`
	// TestConnectionQuery probes idle connections whose driver has neither
	// Ping nor IsValid.
	TestConnectionQuery string `toml:"test_connection_query,omitempty"`
	// ConnectionIdleLimit is how long a connection may sit idle before it is
	// probed on take. Zero probes on every take; negative never probes.
	ConnectionIdleLimit Duration `toml:"connection_idle_limit"`
	// CriticalSQLStates lists the SQLSTATEs that invalidate the whole pool.
	// Empty uses the built-in set.
	CriticalSQLStates []string `toml:"critical_sql_states,omitempty"`
}

// PoolConfig sizes the pool and controls acquisition.
type PoolConfig struct {
	InitialSize int  `toml:"initial_size"`
	MaxSize     int  `toml:"max_size"`
	Fair        bool `toml:"fair"`
	// EnableConnectionTracking records who holds every taken connection.
	EnableConnectionTracking bool `toml:"enable_connection_tracking"`
	// ConnectionTimeout bounds Conn. Zero waits indefinitely.
	ConnectionTimeout    Duration `toml:"connection_timeout"`
	AcquireRetryAttempts int      `toml:"acquire_retry_attempts"`
	AcquireRetryDelay    Duration `toml:"acquire_retry_delay"`
}

// ReducerConfig controls the background shrinking of idle connections.
type ReducerConfig struct {
	// Interval between reductions. Zero disables the reducer.
	Interval Duration `toml:"interval"`
	// Samples taken per interval.
	Samples int `toml:"samples"`
}

// StatementCacheConfig controls prepared statement caching.
type StatementCacheConfig struct {
	// MaxSize is the number of cached statements across all connections.
	// Zero disables caching; values above 1000 are capped.
	MaxSize int `toml:"max_size"`
	// ClearWarnings clears statement warnings before they return to the cache.
	ClearWarnings bool `toml:"clear_warnings"`
}

// LoggingConfig controls the slow call logs.
type LoggingConfig struct {
	Level string `toml:"level"`
	// ConnectionLongerThan logs acquisitions slower than this. Negative disables.
	ConnectionLongerThan Duration `toml:"connection_longer_than"`
	// StackTraceForLongConnection appends the caller's stack to those logs.
	StackTraceForLongConnection bool `toml:"stack_trace_for_long_connection"`
	// QueryExecutionLongerThan logs executions slower than this. Negative disables.
	QueryExecutionLongerThan Duration `toml:"query_execution_longer_than"`
}

// BreakerConfig guards connection creation.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive creation failures that
	// open the breaker. Zero disables it.
	FailureThreshold int      `toml:"failure_threshold"`
	Timeout          Duration `toml:"timeout"`
}

// AdminConfig configures the monitoring endpoints.
type AdminConfig struct {
	// Listen is the host:port to serve on. Empty disables the server.
	Listen string `toml:"listen,omitempty"`
}

// Default returns a Config with sensible defaults. The DSN is left empty.
func Default() *Config {
	return &Config{
		DataSource: DataSourceConfig{
			Name:                DefaultName,
			ConnectionIdleLimit: Duration(DefaultConnectionIdleLimit),
		},
		Pool: PoolConfig{
			InitialSize:          DefaultPoolInitialSize,
			MaxSize:              DefaultPoolMaxSize,
			Fair:                 true,
			ConnectionTimeout:    Duration(DefaultConnectionTimeout),
			AcquireRetryAttempts: DefaultAcquireRetryAttempts,
			AcquireRetryDelay:    Duration(DefaultAcquireRetryDelay),
		},
		Reducer: ReducerConfig{
			Interval: Duration(DefaultReducerInterval),
			Samples:  DefaultReducerSamples,
		},
		Logging: LoggingConfig{
			Level:                    DefaultLogLevel,
			ConnectionLongerThan:     Duration(DefaultLogConnectionLongerThan),
			QueryExecutionLongerThan: Duration(DefaultLogQueryLongerThan),
		},
		Breaker: BreakerConfig{
			Timeout: Duration(DefaultBreakerTimeout),
		},
	}
}

// Load reads a TOML file on top of the defaults and validates the result.
// A missing file yields the unvalidated defaults so callers can apply
// overrides before calling Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Read is Load without validation, for callers that apply overrides first.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Decode(data)
}

// Parse decodes TOML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode decodes TOML on top of the defaults.
func Decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w: %w", apperrors.ErrConfiguration, err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks every field and reports all problems at once. A statement
// cache larger than MaxStatementCacheSize is capped rather than rejected.
func (c *Config) Validate() error {
	var errs validation.Errors

	errs.Add(validation.PoolName("datasource.name", c.DataSource.Name))
	errs.Add(validation.Required("datasource.dsn", c.DataSource.DSN))
	for _, state := range c.DataSource.CriticalSQLStates {
		errs.Add(validation.SQLState("datasource.critical_sql_states", state))
	}

	errs.Add(validation.Positive("pool.max_size", c.Pool.MaxSize))
	errs.Add(validation.IntRange("pool.initial_size", c.Pool.InitialSize, 0, max(c.Pool.MaxSize, 0)))
	errs.Add(validation.NonNegativeDuration("pool.connection_timeout", c.Pool.ConnectionTimeout.D()))
	errs.Add(validation.NonNegative("pool.acquire_retry_attempts", c.Pool.AcquireRetryAttempts))
	errs.Add(validation.NonNegativeDuration("pool.acquire_retry_delay", c.Pool.AcquireRetryDelay.D()))

	errs.Add(validation.NonNegativeDuration("reducer.interval", c.Reducer.Interval.D()))
	if c.Reducer.Interval > 0 {
		errs.Add(validation.Positive("reducer.samples", c.Reducer.Samples))
	}

	errs.Add(validation.NonNegative("statement_cache.max_size", c.StatementCache.MaxSize))
	if c.StatementCache.MaxSize > MaxStatementCacheSize {
		log.WithField("requested", c.StatementCache.MaxSize).
			WithField("max", MaxStatementCacheSize).
			Warn("statement cache size capped")
		c.StatementCache.MaxSize = MaxStatementCacheSize
	}

	errs.Add(validation.OneOf("logging.level", c.Logging.Level, "debug", "info", "warn", "error"))

	errs.Add(validation.NonNegative("breaker.failure_threshold", c.Breaker.FailureThreshold))
	if c.Breaker.FailureThreshold > 0 {
		errs.Add(validation.NonNegativeDuration("breaker.timeout", c.Breaker.Timeout.D()))
	}

	if c.Admin.Listen != "" {
		errs.Add(validation.HostPort("admin.listen", c.Admin.Listen))
	}

	if errs.HasErrors() {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, errs)
	}
	return nil
}

// ReducerEnabled reports whether the reducer should run.
func (c *Config) ReducerEnabled() bool {
	return c.Reducer.Interval > 0
}

// StatementCacheEnabled reports whether prepared statements are cached.
func (c *Config) StatementCacheEnabled() bool {
	return c.StatementCache.MaxSize > 0
}
