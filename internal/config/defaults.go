package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMaxRetryAttempts = 10
	DefaultBaseRetryDelay   = 1 * time.Second
	DefaultMaxRetryDelay    = 30 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultReapInterval     = 60 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultBufferSize       = 1000
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultBatchSize        = 1000
	DefaultFlushInterval    = 1 * time.Second
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	// Stream defaults
	if c.Stream.MaxRetryAttempts == 0 {
		c.Stream.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.Stream.BaseRetryDelay == 0 {
		c.Stream.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.Stream.MaxRetryDelay == 0 {
		c.Stream.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.Stream.IdleTimeout == 0 {
		c.Stream.IdleTimeout = DefaultIdleTimeout
	}
	if c.Stream.ReapInterval == 0 {
		c.Stream.ReapInterval = DefaultReapInterval
	}

	// Connection defaults
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Archive defaults
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
