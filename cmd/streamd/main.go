// streamd runs the shared-subscription stream manager.
//
// Usage:
//
//	streamd serve --config configs/streamd.yaml
//	streamd tail --config configs/streamd.yaml btcusdt@trade ethusdt@trade
//	streamd version
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rickgao/market-stream/internal/config"
	"github.com/rickgao/market-stream/internal/version"
)

var (
	configPath string
	logLevel   string
	debugMode  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "streamd",
		Short: "Shared-subscription WebSocket stream manager",
		Long: `streamd multiplexes many consumers of the same market data stream onto a
single WebSocket connection per stream key, reconnecting with jittered
exponential backoff and reaping idle streams.`,
		Version:      version.String(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/streamd.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "log every frame")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTailCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// applyFlags overrides config values with command line flags.
func applyFlags(cfg *config.Config) {
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if debugMode {
		cfg.Stream.Debug = true
		cfg.Logging.Level = "debug"
	}
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
}
