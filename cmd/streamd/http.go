package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/metrics"
	"github.com/rickgao/market-stream/internal/retry"
)

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// streamStatus is the part of *stream.Manager the HTTP endpoints read.
type streamStatus interface {
	Metrics() metrics.Snapshot
	Registry() *metrics.Registry
	RetryDelayPreview(attempt int) retry.Preview
	ConnectionState() connection.ConnectionState
	Keys() []string
	ForceCleanupIdleStreams(timeout time.Duration) int
}

// newHTTPHandler creates the metrics, health and debug endpoints. db may be
// nil when the archive is disabled.
func newHTTPHandler(mgr streamStatus, db pinger, metricsPath string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{mgr.Registry().Gatherer(), prometheus.DefaultGatherer}
	mux.Handle(metricsPath, promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		state := mgr.ConnectionState()
		keys := mgr.Keys()
		health.Components["streams"] = map[string]any{
			"state":   state.String(),
			"keys":    keys,
			"metrics": mgr.Metrics(),
		}
		if len(keys) > 0 && state != connection.StateConnected {
			health.Status = "degraded"
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["timescaledb"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Warn("encode health response", "error", err)
		}
	})

	mux.HandleFunc("/debug/retry-preview", func(w http.ResponseWriter, r *http.Request) {
		attempt := 0
		if v := r.URL.Query().Get("attempt"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "attempt must be a non-negative integer", http.StatusBadRequest)
				return
			}
			attempt = n
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(mgr.RetryDelayPreview(attempt)); err != nil {
			logger.Warn("encode retry preview response", "error", err)
		}
	})

	mux.HandleFunc("/debug/cleanup", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var timeout time.Duration
		if v := r.URL.Query().Get("timeout"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				http.Error(w, "invalid timeout: "+err.Error(), http.StatusBadRequest)
				return
			}
			timeout = d
		}

		reaped := mgr.ForceCleanupIdleStreams(timeout)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"reaped": reaped,
			"active": len(mgr.Keys()),
		}); err != nil {
			logger.Warn("encode cleanup response", "error", err)
		}
	})

	return mux
}
