package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper retires entries idle for longer than timeout and reports how many
// it removed.
type Sweeper interface {
	ReapIdle(timeout time.Duration) int
}

// SweeperFunc is a function adapter for Sweeper.
type SweeperFunc func(time.Duration) int

func (f SweeperFunc) ReapIdle(timeout time.Duration) int {
	return f(timeout)
}

// Config holds reaper configuration.
type Config struct {
	Interval time.Duration // Sweep interval (default: 60s)
	Timeout  time.Duration // Idle threshold (default: 5m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 60 * time.Second,
		Timeout:  5 * time.Minute,
	}
}

// Reaper periodically sweeps idle entries.
type Reaper struct {
	cfg     Config
	sweeper Sweeper
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a new Reaper. Non-positive durations fall back to defaults.
func New(cfg Config, sweeper Sweeper, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Reaper{
		cfg:     cfg,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Start begins the sweep loop. Calling Start on a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("idle reaper started",
		"interval", r.cfg.Interval,
		"timeout", r.cfg.Timeout,
	)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Debug("idle reaper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main sweep loop.
func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	reaped := r.sweeper.ReapIdle(r.cfg.Timeout)
	if reaped > 0 {
		r.logger.Info("reaped idle streams", "count", reaped, "timeout", r.cfg.Timeout)
	}
}
