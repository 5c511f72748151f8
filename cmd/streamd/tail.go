package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/market-stream/internal/config"
	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/stream"
)

func newTailCmd() *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "tail <key>...",
		Short: "Subscribe to stream keys and print payloads to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithDefaults(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applyFlags(cfg)

			// Logs go to stderr so stdout carries only payloads.
			logger, err := newLogger(cfg.Logging, os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			factory := connection.NewWSFactory(clientConfig(cfg), logger)
			mgr := stream.NewManager(managerConfig(cfg), factory, logger)
			defer mgr.Destroy()

			return tail(ctx, mgr, args, cmd.OutOrStdout(), pretty, logger)
		},
	}

	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON payloads")
	return cmd
}

// subscriber is satisfied by *stream.Manager.
type subscriber interface {
	Subscribe(key string) (*stream.Subscription, error)
}

// tail prints every payload from keys to out until ctx is cancelled or every
// subscription ends. A stream that exhausts its retries ends tail with that
// error.
func tail(ctx context.Context, mgr subscriber, keys []string, out io.Writer, pretty bool, logger *slog.Logger) error {
	subs := make([]*stream.Subscription, 0, len(keys))
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()
	for _, key := range keys {
		sub, err := mgr.Subscribe(key)
		if err != nil {
			return fmt.Errorf("subscribe %q: %w", key, err)
		}
		subs = append(subs, sub)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, sub := range subs {
		g.Go(func() error {
			for {
				ev, err := sub.Receive(gctx)
				if err != nil {
					if errors.Is(err, stream.ErrSubscriptionClosed) || errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				if ev.Err != nil {
					logger.Warn("skipping frame", "stream", sub.Key(), "error", ev.Err)
					continue
				}

				line, err := formatPayload(sub.Key(), ev.Payload, pretty)
				if err != nil {
					logger.Warn("format payload", "stream", sub.Key(), "error", err)
					continue
				}

				mu.Lock()
				_, err = out.Write(line)
				mu.Unlock()
				if err != nil {
					return err
				}
			}
		})
	}

	return g.Wait()
}

func formatPayload(key string, payload json.RawMessage, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("[" + key + "] ")

	if pretty {
		if err := json.Indent(&buf, payload, "", "  "); err != nil {
			return nil, err
		}
	} else {
		buf.Write(payload)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
