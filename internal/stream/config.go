package stream

import (
	"time"

	"github.com/rickgao/market-stream/internal/retry"
)

// DefaultMaxRetryAttempts is used when Config.MaxRetryAttempts is not positive.
const DefaultMaxRetryAttempts = 10

// Config holds Manager configuration.
type Config struct {
	BaseURL          string        // Stream keys are appended as a path segment
	MaxRetryAttempts int           // Consecutive failures before a stream fails (default: 10)
	BaseRetryDelay   time.Duration // Backoff base (default: 1s)
	MaxRetryDelay    time.Duration // Backoff cap (default: 30s, never above 30s)
	IdleTimeout      time.Duration // Idle threshold for the reaper (default: 5m)
	ReapInterval     time.Duration // Reaper interval; zero or negative disables the reaper
	Debug            bool          // Log every frame at debug level
	ReclaimMemory    bool          // Hint the runtime to release memory when the last stream closes
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts: DefaultMaxRetryAttempts,
		BaseRetryDelay:   retry.DefaultBaseDelay,
		MaxRetryDelay:    retry.DefaultMaxDelay,
		IdleTimeout:      5 * time.Minute,
		ReapInterval:     60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	return c
}
