package stream

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/metrics"
	"github.com/rickgao/market-stream/internal/reaper"
	"github.com/rickgao/market-stream/internal/retry"
	"github.com/rickgao/market-stream/internal/router"
)

// entry is one shared pipeline. Its subs slice is the reference count.
type entry struct {
	key          string
	subs         []*Subscription
	lastActivity time.Time
	cancel       context.CancelFunc
	logger       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for activity tracking and metrics.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithStateSignal reports connection transitions to s instead of a private
// signal.
func WithStateSignal(s *connection.StateSignal) Option {
	return func(m *Manager) {
		if s != nil {
			m.state = s
		}
	}
}

// Manager owns the stream table. It is safe for concurrent use.
type Manager struct {
	cfg     Config
	factory connection.Factory
	logger  *slog.Logger
	policy  *retry.Policy
	router  *router.Router
	metrics *metrics.Registry
	state   *connection.StateSignal
	reaper  *reaper.Reaper
	now     func() time.Time
	wait    func(ctx context.Context, d time.Duration) bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	entries   map[string]*entry
	destroyed bool

	destroyOnce sync.Once
}

// NewManager creates a Manager and starts its idle reaper when
// cfg.ReapInterval is positive. A nil logger uses slog.Default().
func NewManager(cfg Config, factory connection.Factory, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		policy:  retry.NewPolicy(cfg.BaseRetryDelay, cfg.MaxRetryDelay),
		router:  router.NewRouter(logger),
		state:   connection.NewStateSignal(),
		now:     time.Now,
		wait:    sleepContext,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = metrics.NewRegistry(m.ActiveStreams)

	if cfg.ReapInterval > 0 {
		m.reaper = reaper.New(reaper.Config{
			Interval: cfg.ReapInterval,
			Timeout:  cfg.IdleTimeout,
		}, m, logger)
		m.reaper.Start(ctx)
	}

	logger.Info("stream manager created",
		"base_url", cfg.BaseURL,
		"max_retry_attempts", cfg.MaxRetryAttempts,
		"max_retry_delay", m.policy.MaxDelay(),
	)

	return m
}

// Subscribe returns a handle on the stream for key, opening a connection if
// none exists. Any string, including the empty string, is a valid key.
func (m *Manager) Subscribe(key string) (*Subscription, error) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, ErrDestroyed
	}

	e, ok := m.entries[key]
	if !ok {
		ctx, cancel := context.WithCancel(m.ctx)
		e = &entry{
			key:    key,
			cancel: cancel,
			logger: m.logger.With("stream", key),
		}
		m.entries[key] = e

		m.wg.Add(1)
		go m.run(ctx, e)
	}
	e.lastActivity = m.now()

	sub := newSubscription(m, e)
	e.subs = append(e.subs, sub)
	active := len(m.entries)
	m.mu.Unlock()

	if !ok {
		m.metrics.RecordStreamCreated(active)
		e.logger.Info("stream created", "active", active)
	}
	return sub, nil
}

// release drops sub from its entry and tears the entry down when it was the
// last handle.
func (m *Manager) release(sub *Subscription) {
	m.mu.Lock()
	e := sub.entry
	if m.entries[e.key] != e {
		m.mu.Unlock()
		return
	}

	for i, s := range e.subs {
		if s == sub {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			break
		}
	}
	if len(e.subs) > 0 {
		m.mu.Unlock()
		return
	}

	m.removeLocked(e)
	remaining := len(m.entries)
	m.mu.Unlock()

	m.cleaned(e, remaining, "released")
}

// teardown removes e if it is still registered and ends every handle on it
// with err. It reports whether e was removed.
func (m *Manager) teardown(e *entry, err error, reason string) bool {
	return m.teardownIf(e, err, reason, nil)
}

// teardownIf is teardown guarded by cond, which is evaluated with mu held.
// A nil cond always holds.
func (m *Manager) teardownIf(e *entry, err error, reason string, cond func(*entry) bool) bool {
	m.mu.Lock()
	if m.entries[e.key] != e || (cond != nil && !cond(e)) {
		m.mu.Unlock()
		return false
	}
	subs := m.removeLocked(e)
	remaining := len(m.entries)
	m.mu.Unlock()

	m.cleaned(e, remaining, reason)
	for _, s := range subs {
		s.finish(err)
	}
	return true
}

// removeLocked unregisters e and stops its pipeline. It must be called with
// mu held and returns the handles that were still attached.
func (m *Manager) removeLocked(e *entry) []*Subscription {
	delete(m.entries, e.key)
	e.cancel()
	subs := e.subs
	e.subs = nil
	return subs
}

func (m *Manager) cleaned(e *entry, remaining int, reason string) {
	m.metrics.RecordStreamCleanup()
	e.logger.Info("stream torn down", "reason", reason, "active", remaining)

	if remaining == 0 && m.cfg.ReclaimMemory {
		go func() {
			defer func() { _ = recover() }()
			debug.FreeOSMemory()
		}()
	}
}

// ReapIdle tears down every entry whose last subscribe is older than timeout,
// whether or not it still has subscribers. It returns the number removed.
func (m *Manager) ReapIdle(timeout time.Duration) int {
	now := m.now()
	return m.reap(m.idleEntries(now, timeout), now, timeout)
}

func (m *Manager) idleEntries(now time.Time, timeout time.Duration) []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var idle []*entry
	for _, e := range m.entries {
		if now.Sub(e.lastActivity) > timeout {
			idle = append(idle, e)
		}
	}
	return idle
}

// reap tears down candidates that are still idle. A Subscribe racing the
// sweep refreshes lastActivity and keeps its entry.
func (m *Manager) reap(candidates []*entry, now time.Time, timeout time.Duration) int {
	stillIdle := func(e *entry) bool {
		return now.Sub(e.lastActivity) > timeout
	}

	reaped := 0
	for _, e := range candidates {
		if m.teardownIf(e, nil, "idle", stillIdle) {
			reaped++
		}
	}
	return reaped
}

// ForceCleanupIdleStreams runs one synchronous idle sweep. A non-positive
// timeout uses the configured IdleTimeout.
func (m *Manager) ForceCleanupIdleStreams(timeout time.Duration) int {
	if timeout <= 0 {
		timeout = m.cfg.IdleTimeout
	}
	reaped := m.ReapIdle(timeout)
	m.logger.Info("forced idle cleanup", "timeout", timeout, "reaped", reaped)
	return reaped
}

// Destroy tears down every stream, stops the reaper and waits for all
// pipelines to exit. Every live handle completes normally. The Manager cannot
// be reused; later Subscribe calls return ErrDestroyed.
func (m *Manager) Destroy() {
	m.destroyOnce.Do(func() {
		m.mu.Lock()
		m.destroyed = true
		entries := make([]*entry, 0, len(m.entries))
		for _, e := range m.entries {
			entries = append(entries, e)
		}
		m.mu.Unlock()

		if m.reaper != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.reaper.Stop(ctx); err != nil {
				m.logger.Warn("idle reaper stop timed out", "error", err)
			}
			cancel()
		}

		for _, e := range entries {
			m.teardown(e, nil, "destroyed")
		}

		m.cancel()
		m.wg.Wait()

		m.logger.Info("stream manager destroyed", "streams", len(entries))
	})
}

// Metrics returns a non-blocking snapshot.
func (m *Manager) Metrics() metrics.Snapshot {
	return m.metrics.Snapshot()
}

// PrometheusMetrics renders all metrics in the Prometheus text format.
func (m *Manager) PrometheusMetrics() string {
	return m.metrics.PrometheusText()
}

// Registry exposes the metrics registry for HTTP handlers.
func (m *Manager) Registry() *metrics.Registry {
	return m.metrics
}

// RetryDelayPreview reports the deterministic parts of the backoff for
// attempt.
func (m *Manager) RetryDelayPreview(attempt int) retry.Preview {
	return m.policy.Preview(attempt)
}

// ConnectionState samples the process-wide connection state.
func (m *Manager) ConnectionState() connection.ConnectionState {
	return m.state.Load()
}

// State returns the connection state signal.
func (m *Manager) State() *connection.StateSignal {
	return m.state
}

// RouterStats returns demultiplexing statistics across all streams.
func (m *Manager) RouterStats() router.RouterStats {
	return m.router.Stats()
}

// ActiveStreams returns the number of registered entries.
func (m *Manager) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Keys returns the registered stream keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// SubscriberCount returns the number of live handles on key.
func (m *Manager) SubscriberCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return len(e.subs)
	}
	return 0
}

// subscribers returns a copy of e's handles, or nil once e is gone.
func (m *Manager) subscribers(e *entry) []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[e.key] != e {
		return nil
	}
	return append([]*Subscription(nil), e.subs...)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
