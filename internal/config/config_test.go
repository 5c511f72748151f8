package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-streamd
stream:
  base_url: wss://stream.example.com/ws
  max_retry_attempts: 5
  base_retry_delay: 500ms
  max_retry_delay: 60s
  debug: true
  subscriptions:
    - btcusdt@trade
    - ethusdt@trade
connection:
  ping_interval: 20s
database:
  timescale:
    host: localhost
    name: test_ts
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-streamd", cfg.Instance.ID)
	assert.Equal(t, "wss://stream.example.com/ws", cfg.Stream.BaseURL)
	assert.Equal(t, 5, cfg.Stream.MaxRetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.BaseRetryDelay)
	assert.Equal(t, 60*time.Second, cfg.Stream.MaxRetryDelay, "cap is applied by the retry policy, not the loader")
	assert.True(t, cfg.Stream.Debug)
	assert.Equal(t, []string{"btcusdt@trade", "ethusdt@trade"}, cfg.Stream.Subscriptions)
	assert.Equal(t, 20*time.Second, cfg.Connection.PingInterval)
	assert.Equal(t, "localhost", cfg.Database.Timescale.Host)
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_STREAM_URL", "wss://feed.example.com/ws")

	yaml := `
instance:
  id: test-streamd
stream:
  base_url: ${TEST_STREAM_URL}
database:
  timescale:
    host: localhost
    name: test_ts
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret123", cfg.Database.Timescale.Password)
	assert.Equal(t, "wss://feed.example.com/ws", cfg.Stream.BaseURL)
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-streamd
stream:
  base_url: wss://stream.example.com/ws
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxRetryAttempts, cfg.Stream.MaxRetryAttempts)
	assert.Equal(t, DefaultBaseRetryDelay, cfg.Stream.BaseRetryDelay)
	assert.Equal(t, DefaultMaxRetryDelay, cfg.Stream.MaxRetryDelay)
	assert.Equal(t, DefaultIdleTimeout, cfg.Stream.IdleTimeout)
	assert.Equal(t, DefaultReapInterval, cfg.Stream.ReapInterval)
	assert.Equal(t, DefaultPingInterval, cfg.Connection.PingInterval)
	assert.Equal(t, DefaultBufferSize, cfg.Connection.BufferSize)
	assert.Equal(t, DefaultDBPort, cfg.Database.Timescale.Port)
	assert.Equal(t, DefaultDBSSLMode, cfg.Database.Timescale.SSLMode)
	assert.Equal(t, DefaultBatchSize, cfg.Archive.BatchSize)
	assert.Equal(t, DefaultFlushInterval, cfg.Archive.FlushInterval)
	assert.Equal(t, DefaultMetricsPort, cfg.Metrics.Port)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeTempFile(t, "stream: [unclosed"))
	assert.ErrorContains(t, err, "parse config yaml")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Instance: InstanceConfig{ID: "test"},
			Stream:   StreamConfig{BaseURL: "wss://stream.example.com/ws"},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	archive := func() Config {
		cfg := valid()
		cfg.Archive.Enabled = true
		cfg.Stream.Subscriptions = []string{"btcusdt@trade"}
		cfg.Database.Timescale = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		base    func() Config
		wantErr string
	}{
		{
			name:    "missing instance id",
			base:    valid,
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing base url",
			base:    valid,
			mutate:  func(c *Config) { c.Stream.BaseURL = "" },
			wantErr: "stream.base_url is required",
		},
		{
			name:    "http base url",
			base:    valid,
			mutate:  func(c *Config) { c.Stream.BaseURL = "https://stream.example.com" },
			wantErr: `stream.base_url must use ws or wss, got "https"`,
		},
		{
			name:    "negative retry attempts",
			base:    valid,
			mutate:  func(c *Config) { c.Stream.MaxRetryAttempts = -1 },
			wantErr: "stream.max_retry_attempts must be >= 1",
		},
		{
			name:    "bad metrics port",
			base:    valid,
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log format",
			base:    valid,
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name:    "archive without password",
			base:    archive,
			mutate:  func(c *Config) { c.Database.Timescale.Password = "" },
			wantErr: "database.timescale.password is required",
		},
		{
			name:    "archive min_conns exceeds max_conns",
			base:    archive,
			mutate:  func(c *Config) { c.Database.Timescale.MinConns = 20 },
			wantErr: "database.timescale.min_conns (20) cannot exceed max_conns (10)",
		},
		{
			name:    "archive without subscriptions",
			base:    archive,
			mutate:  func(c *Config) { c.Stream.Subscriptions = nil },
			wantErr: "archive.enabled requires stream.subscriptions",
		},
		{
			name:   "valid config",
			base:   valid,
			mutate: func(*Config) {},
		},
		{
			name:   "valid archive config",
			base:   archive,
			mutate: func(*Config) {},
		},
		{
			name:   "database ignored when archive disabled",
			base:   valid,
			mutate: func(c *Config) { c.Database.Timescale = DBConfig{} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.base()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
