// Package config provides configuration management for FlowForge.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for the FlowForge daemon.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP API server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Engine is the pipeline execution engine configuration.
	Engine EngineConfig `mapstructure:"engine"`

	// Scheduler is the schedule poller configuration.
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Retention is the execution retention cleaner configuration.
	Retention RetentionConfig `mapstructure:"retention"`

	// Storage is the persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Events is the lifecycle event bus configuration.
	Events EventsConfig `mapstructure:"events"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP API server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// EngineConfig holds pipeline execution engine settings.
type EngineConfig struct {
	// RetryBackoff is the delay between retry attempts of a failed step.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// SchedulerConfig holds schedule poller settings.
type SchedulerConfig struct {
	// Enabled enables the schedule poll loop.
	Enabled bool `mapstructure:"enabled"`

	// PollInterval is the interval between due-schedule sweeps.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// MaxTriggersPerSweep caps how many schedules a single sweep may
	// trigger; anything over the cap is deferred to the next sweep.
	MaxTriggersPerSweep int `mapstructure:"max_triggers_per_sweep" validate:"min=0"`

	// TriggerRate is the sustained trigger rate limit in triggers per
	// second. Zero disables rate limiting.
	TriggerRate float64 `mapstructure:"trigger_rate" validate:"min=0"`

	// TriggerBurst is the rate limiter burst size.
	TriggerBurst int `mapstructure:"trigger_burst" validate:"min=0"`
}

// RetentionConfig holds execution retention cleaner settings.
type RetentionConfig struct {
	// Enabled enables the periodic retention cleaner.
	Enabled bool `mapstructure:"enabled"`

	// Days is the retention window; executions created more than this
	// many days ago are deleted with all dependent rows.
	Days int `mapstructure:"days" validate:"min=1"`

	// Interval is how often the cleaner runs.
	Interval time.Duration `mapstructure:"interval"`

	// BatchSize is how many executions are fetched per storage query.
	BatchSize int `mapstructure:"batch_size" validate:"min=0"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// EventsConfig holds lifecycle event bus settings.
type EventsConfig struct {
	// Bus is the event transport (memory, redis).
	Bus string `mapstructure:"bus" validate:"oneof=memory redis"`

	// ChannelPrefix is the prefix for redis pub/sub channels.
	ChannelPrefix string `mapstructure:"channel_prefix"`

	// BufferSize is the per-subscriber delivery buffer size.
	BufferSize int `mapstructure:"buffer_size" validate:"min=0"`

	// Redis is the redis transport configuration.
	Redis RedisConfig `mapstructure:"redis"`

	// Retry is the publish retry policy.
	Retry PublishRetryConfig `mapstructure:"retry"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db"`
}

// PublishRetryConfig holds event publish retry settings.
type PublishRetryConfig struct {
	// MaxRetries is how many times a failed publish is retried before
	// the bus is marked degraded.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff caps the exponential retry backoff.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// BackoffFactor is the exponential backoff multiplier.
	BackoffFactor float64 `mapstructure:"backoff_factor" validate:"min=0"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlp_grpc).
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Headers are extra headers sent with each export request.
	Headers map[string]string `mapstructure:"headers"`

	// Timeout is the per-export timeout.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler selects the sampling strategy (always_on, always_off, ratio).
	Sampler string `mapstructure:"sampler"`

	// SampleRate is the fraction of traces to sample when Sampler is
	// ratio (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Storage: %s, Env: %s}",
		c.App.Name, c.Server.Port, c.Storage.Type, c.App.Environment)
}
