package config

import "time"

// Config is the root configuration for a streamd instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Stream     StreamConfig     `yaml:"stream"`
	Connection ConnectionConfig `yaml:"connection"`
	Database   DatabaseConfig   `yaml:"database"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// StreamConfig holds stream manager settings.
type StreamConfig struct {
	BaseURL          string        `yaml:"base_url"`
	MaxRetryAttempts int           `yaml:"max_retry_attempts"`
	BaseRetryDelay   time.Duration `yaml:"base_retry_delay"`
	MaxRetryDelay    time.Duration `yaml:"max_retry_delay"` // Values above 30s are capped
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	ReapInterval     time.Duration `yaml:"reap_interval"`
	Debug            bool          `yaml:"debug"`
	ReclaimMemory    bool          `yaml:"reclaim_memory"`
	Subscriptions    []string      `yaml:"subscriptions"` // Stream keys subscribed at startup
}

// ConnectionConfig holds WebSocket client settings.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the TimescaleDB connection used by the archive.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ArchiveConfig holds payload archive settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig holds the HTTP metrics server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
