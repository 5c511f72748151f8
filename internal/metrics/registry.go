package metrics

import (
	"bytes"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Implementation labels the snapshot so operators can tell which manager
// produced it.
const Implementation = "refcount-registry"

const namespace = "ws_manager"

// Snapshot is a point-in-time copy of all manager metrics.
type Snapshot struct {
	ActiveConnections    int       `json:"activeConnections"`
	RetryCount           int64     `json:"retryCount"`
	TotalReconnections   int64     `json:"totalReconnections"`
	TotalStreamCreations int64     `json:"totalStreamCreations"`
	TotalStreamCleanups  int64     `json:"totalStreamCleanups"`
	ActiveConnectionsHWM int64     `json:"activeConnectionsHWM"`
	LastRetryTime        time.Time `json:"lastRetryTime,omitzero"`
	LastErrorTime        time.Time `json:"lastErrorTime,omitzero"`
	Implementation       string    `json:"implementation"`
}

// Registry holds lifecycle counters for one manager.
type Registry struct {
	active func() int

	retries       atomic.Int64
	reconnections atomic.Int64
	creations     atomic.Int64
	cleanups      atomic.Int64
	hwm           atomic.Int64
	lastRetry     atomic.Int64 // unix nanos, 0 = never
	lastError     atomic.Int64 // unix nanos, 0 = never

	prom *prometheus.Registry
}

// NewRegistry creates a registry. active reports the current number of
// stream entries and is called on every snapshot and scrape; it must not
// call back into the registry.
func NewRegistry(active func() int) *Registry {
	if active == nil {
		active = func() int { return 0 }
	}

	r := &Registry{
		active: active,
		prom:   prometheus.NewRegistry(),
	}

	r.prom.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections",
		}, func() float64 { return float64(r.active()) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_count_total",
			Help:      "Total number of retry attempts",
		}, func() float64 { return float64(r.retries.Load()) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_creations_total",
			Help:      "Total number of streams created",
		}, func() float64 { return float64(r.creations.Load()) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_cleanups_total",
			Help:      "Total number of streams cleaned up",
		}, func() float64 { return float64(r.cleanups.Load()) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections_hwm",
			Help:      "High water mark of concurrently active connections",
		}, func() float64 { return float64(r.hwm.Load()) }),
	)

	return r
}

// RecordRetry counts one retry attempt scheduled at t.
func (r *Registry) RecordRetry(t time.Time) {
	r.retries.Add(1)
	r.lastRetry.Store(t.UnixNano())
}

// RecordReconnection counts a successful re-open after at least one retry.
func (r *Registry) RecordReconnection() {
	r.reconnections.Add(1)
}

// RecordError stamps the time of the latest connection failure.
func (r *Registry) RecordError(t time.Time) {
	r.lastError.Store(t.UnixNano())
}

// RecordStreamCreated counts a new stream entry. active is the entry count
// after the creation and feeds the high-water mark.
func (r *Registry) RecordStreamCreated(active int) {
	r.creations.Add(1)

	for {
		cur := r.hwm.Load()
		if int64(active) <= cur || r.hwm.CompareAndSwap(cur, int64(active)) {
			return
		}
	}
}

// RecordStreamCleanup counts a torn down stream entry.
func (r *Registry) RecordStreamCleanup() {
	r.cleanups.Add(1)
}

// Snapshot returns the current values. It never blocks on writers.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		ActiveConnections:    r.active(),
		RetryCount:           r.retries.Load(),
		TotalReconnections:   r.reconnections.Load(),
		TotalStreamCreations: r.creations.Load(),
		TotalStreamCleanups:  r.cleanups.Load(),
		ActiveConnectionsHWM: r.hwm.Load(),
		LastRetryTime:        unixNanoTime(r.lastRetry.Load()),
		LastErrorTime:        unixNanoTime(r.lastError.Load()),
		Implementation:       Implementation,
	}
}

// Gatherer exposes the underlying Prometheus registry for HTTP handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// WritePrometheus writes the text exposition format to w.
func (r *Registry) WritePrometheus(w io.Writer) error {
	families, err := r.prom.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// PrometheusText renders the text exposition format. It has no side effects
// and is safe to call at any rate.
func (r *Registry) PrometheusText() string {
	var buf bytes.Buffer
	if err := r.WritePrometheus(&buf); err != nil {
		return ""
	}
	return buf.String()
}

func unixNanoTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
