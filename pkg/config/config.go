package config

import "time"

// Config is the root configuration structure for Vigil.
// It contains the HTTP server, result storage, retention sweep, read cache,
// and telemetry sections.
type Config struct {
	// Server contains HTTP API server configuration including listen address,
	// timeouts, and CORS.
	Server ServerConfig `yaml:"server"`

	// Storage selects and configures the result repository backend.
	Storage StorageConfig `yaml:"storage"`

	// Retention contains the per-owner retention window and the sweep
	// schedule.
	Retention RetentionConfig `yaml:"retention"`

	// Cache contains the read cache used for the global recent results view.
	Cache CacheConfig `yaml:"cache"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8090", "0.0.0.0:8090").
	// Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Exports of large owners are bounded by this value.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits the size of JSON request bodies.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration.
type CORSConfig struct {
	// Enabled controls whether CORS headers are sent.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins is a list of allowed origins for CORS requests.
	// Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods is a list of allowed HTTP methods for CORS requests.
	// Default: ["GET", "POST", "PATCH", "DELETE", "OPTIONS"]
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders is a list of allowed HTTP headers for CORS requests.
	// Default: ["Content-Type", "X-Request-ID", "Traceparent"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is the maximum age (in seconds) for the preflight cache.
	// Default: 3600 (1 hour)
	MaxAge int `yaml:"max_age"`
}

// StorageConfig selects the result repository backend.
type StorageConfig struct {
	// Backend is the storage backend.
	// Options: "sqlite", "postgres", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig contains SQLite storage configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/vigil.db"
	Path string `yaml:"path"`

	// Driver is the database/sql driver name.
	// Options: "sqlite3" (cgo, mattn/go-sqlite3), "sqlite" (pure Go, modernc.org/sqlite)
	// Default: "sqlite3"
	Driver string `yaml:"driver"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long a writer waits for the database lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PostgresConfig contains PostgreSQL storage configuration.
type PostgresConfig struct {
	// DSN is the connection string.
	// Example: "host=localhost user=vigil password=secret dbname=vigil sslmode=disable"
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum lifetime of a connection.
	// Default: 30m
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// AutoMigrate creates or updates the schema at startup.
	// Default: true
	AutoMigrate bool `yaml:"auto_migrate"`

	// SlowThreshold is the duration above which queries are logged as slow.
	// Default: 300ms
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

// RetentionConfig contains per-owner retention configuration.
type RetentionConfig struct {
	// WindowSize is the number of most recent results kept per owner.
	// It can be changed at runtime by editing the configuration file.
	// Default: 24
	WindowSize int `yaml:"window_size"`

	// Schedule is the cron expression for automatic sweeps.
	// An empty schedule disables automatic sweeps.
	// Default: "*/15 * * * *" (every 15 minutes)
	Schedule string `yaml:"schedule"`

	// ArchiveBeforeEvict writes evicted results to ArchivePath before
	// deleting them.
	// Default: false
	ArchiveBeforeEvict bool `yaml:"archive_before_evict"`

	// ArchivePath is the directory for archive files.
	// Default: "data/archives/"
	ArchivePath string `yaml:"archive_path"`

	// Lock contains the distributed lock used by scheduled sweeps.
	Lock LockConfig `yaml:"lock"`
}

// LockConfig contains distributed sweep lock configuration.
type LockConfig struct {
	// Enabled makes scheduled sweeps take a Redis lock so that only one
	// replica sweeps at a time.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// RedisAddress is the Redis server address.
	// Default: "localhost:6379"
	RedisAddress string `yaml:"redis_address"`

	// RedisPassword is the Redis password.
	RedisPassword string `yaml:"redis_password"`

	// RedisDB is the Redis database number.
	// Default: 0
	RedisDB int `yaml:"redis_db"`

	// TTL is the lock expiry. It should exceed the longest expected sweep.
	// Default: 5m
	TTL time.Duration `yaml:"ttl"`
}

// CacheConfig contains read cache configuration.
type CacheConfig struct {
	// Enabled controls whether GET /v1/results/recent is cached.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// RecentTTL is how long a recent results page stays cached. Writes and
	// sweeps flush the cache.
	// Default: 10s
	RecentTTL time.Duration `yaml:"recent_ttl"`

	// CleanupInterval is how often expired entries are purged.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit. It can be changed at runtime
	// by editing the configuration file.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII redacts email addresses in log attributes. Owner keys are
	// often email addresses.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "vigil"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets defines histogram buckets for HTTP request
	// duration (seconds).
	// Default: [0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5]
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`

	// SweepDurationBuckets defines histogram buckets for sweep duration
	// (seconds).
	// Default: [0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300]
	SweepDurationBuckets []float64 `yaml:"sweep_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1 (10%)
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "vigil"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are enabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// VersionPath is the path for the version information endpoint.
	// Default: "/version"
	VersionPath string `yaml:"version_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
