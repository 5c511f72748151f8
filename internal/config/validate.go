package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Stream.BaseURL == "" {
		return errors.New("stream.base_url is required")
	}
	u, err := url.Parse(c.Stream.BaseURL)
	if err != nil {
		return fmt.Errorf("stream.base_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream.base_url must use ws or wss, got %q", u.Scheme)
	}

	if c.Stream.MaxRetryAttempts < 1 {
		return errors.New("stream.max_retry_attempts must be >= 1")
	}
	if c.Stream.BaseRetryDelay < 0 || c.Stream.MaxRetryDelay < 0 {
		return errors.New("stream retry delays must not be negative")
	}
	if c.Stream.IdleTimeout <= 0 {
		return errors.New("stream.idle_timeout must be > 0")
	}

	if c.Connection.BufferSize < 0 {
		return errors.New("connection.buffer_size must be >= 0")
	}

	if c.Archive.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if len(c.Stream.Subscriptions) == 0 {
			return errors.New("archive.enabled requires stream.subscriptions")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
