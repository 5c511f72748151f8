package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/market-stream/internal/compat"
	"github.com/rickgao/market-stream/internal/config"
	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/database"
	"github.com/rickgao/market-stream/internal/stream"
	"github.com/rickgao/market-stream/internal/version"
	"github.com/rickgao/market-stream/internal/writer"
)

const statsInterval = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the stream manager with its HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applyFlags(cfg)

			logger, err := newLogger(cfg.Logging, os.Stdout)
			if err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			slog.SetDefault(logger)

			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}

	logger.Info("starting streamd",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"base_url", cfg.Stream.BaseURL,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state := connection.NewStateSignal()
	factory := connection.NewWSFactory(clientConfig(cfg), logger)
	mgr := stream.NewManager(managerConfig(cfg), factory, logger, stream.WithStateSignal(state))
	defer mgr.Destroy()

	adapter := compat.NewAdapter(mgr, logger)

	var db pinger
	var archive *writer.ArchiveWriter
	if cfg.Archive.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
		db = pool
		logger.Info("database connected")

		archive = writer.NewArchiveWriter(writer.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, cfg.Stream.Subscriptions, adapter, pool, logger)
		if err := archive.Start(ctx); err != nil {
			return fmt.Errorf("failed to start archive writer: %w", err)
		}
	} else {
		for _, key := range cfg.Stream.Subscriptions {
			if _, err := adapter.SubscribePersistent(key, func(payload json.RawMessage) {
				logger.Debug("payload", "stream", key, "size", len(payload))
			}); err != nil {
				return fmt.Errorf("failed to subscribe %q: %w", key, err)
			}
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHTTPHandler(mgr, db, cfg.Metrics.Path, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		watchState(gctx, state, logger)
		return nil
	})

	g.Go(func() error {
		logStats(gctx, mgr, archive, logger, statsInterval)
		return nil
	})

	logger.Info("streamd running",
		"instance_id", cfg.Instance.ID,
		"subscriptions", len(cfg.Stream.Subscriptions),
		"archive", cfg.Archive.Enabled,
	)

	err := g.Wait()

	logger.Info("shutting down...")

	if err := adapter.Disconnect(); err != nil {
		logger.Warn("adapter disconnect failed", "error", err)
	}
	if archive != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := archive.Stop(shutdownCtx); err != nil {
			logger.Warn("archive writer stop failed", "error", err)
		}
		cancel()
	}
	mgr.Destroy()

	logger.Info("streamd stopped")
	return err
}

// watchState logs every process-wide connection state transition.
func watchState(ctx context.Context, state *connection.StateSignal, logger *slog.Logger) {
	ch, cancel := state.Watch()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			logger.Info("connection state changed", "state", s.String())
		}
	}
}

func logStats(ctx context.Context, mgr *stream.Manager, archive *writer.ArchiveWriter, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := mgr.Metrics()
			rs := mgr.RouterStats()
			attrs := []any{
				"active_streams", snap.ActiveConnections,
				"retries", snap.RetryCount,
				"reconnections", snap.TotalReconnections,
				"router_received", rs.MessagesReceived,
				"router_routed", rs.MessagesRouted,
				"parse_errors", rs.ParseErrors,
				"demux_mismatches", rs.DemuxMismatches,
			}
			if archive != nil {
				ws := archive.Stats()
				attrs = append(attrs,
					"archive_received", ws.Received,
					"archive_inserts", ws.Inserts,
					"archive_errors", ws.Errors,
				)
			}
			logger.Info("stats", attrs...)
		}
	}
}

func managerConfig(cfg *config.Config) stream.Config {
	return stream.Config{
		BaseURL:          cfg.Stream.BaseURL,
		MaxRetryAttempts: cfg.Stream.MaxRetryAttempts,
		BaseRetryDelay:   cfg.Stream.BaseRetryDelay,
		MaxRetryDelay:    cfg.Stream.MaxRetryDelay,
		IdleTimeout:      cfg.Stream.IdleTimeout,
		ReapInterval:     cfg.Stream.ReapInterval,
		Debug:            cfg.Stream.Debug,
		ReclaimMemory:    cfg.Stream.ReclaimMemory,
	}
}

func clientConfig(cfg *config.Config) connection.ClientConfig {
	return connection.ClientConfig{
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		PingInterval:     cfg.Connection.PingInterval,
		PingTimeout:      cfg.Connection.PingTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		BufferSize:       cfg.Connection.BufferSize,
	}
}
