package stream

import (
	"context"
	"errors"

	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/router"
)

// run owns one entry's connection for its whole life: open, pump frames,
// and retry with backoff until the entry is torn down or the retry budget is
// exhausted.
func (m *Manager) run(ctx context.Context, e *entry) {
	defer m.wg.Done()

	url := connection.StreamURL(m.cfg.BaseURL, e.key)
	attempt := 0

	for {
		conn, err := m.factory.Open(ctx, url, m.state)
		if err == nil {
			if attempt > 0 {
				m.metrics.RecordReconnection()
				e.logger.Info("stream reconnected", "attempts", attempt)
			} else {
				e.logger.Debug("stream connected", "url", url)
			}
			attempt = 0

			m.pump(ctx, e, conn)
			conn.Close()
			err = conn.Err()
		}

		if ctx.Err() != nil {
			return
		}

		// Any end of the connection, clean or not, is a terminal signal.
		m.metrics.RecordError(m.now())

		delay := m.policy.Delay(attempt)
		m.metrics.RecordRetry(m.now())
		e.logger.Warn("stream disconnected, retrying",
			"attempt", attempt+1,
			"max_attempts", m.cfg.MaxRetryAttempts,
			"delay", delay,
			"error", err,
		)

		if !m.wait(ctx, delay) {
			return
		}
		attempt++

		if attempt >= m.cfg.MaxRetryAttempts {
			failure := &MaxRetriesError{Key: e.key, Attempts: m.cfg.MaxRetryAttempts, Last: err}
			e.logger.Error("stream failed", "error", failure)
			m.teardown(e, failure, "failed")
			return
		}
	}
}

// pump forwards frames from conn to e's subscribers in wire order until the
// connection ends or ctx is cancelled.
func (m *Manager) pump(ctx context.Context, e *entry, conn connection.Conn) {
	frames := conn.Frames()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}

			payload, err := m.router.Demux(e.key, f.Data)
			if errors.Is(err, router.ErrMalformedFrame) {
				continue
			}
			if m.cfg.Debug {
				e.logger.Debug("frame", "size", len(f.Data), "demux_error", err)
			}

			ev := Event{Payload: payload, Err: err, ReceivedAt: f.ReceivedAt}
			for _, s := range m.subscribers(e) {
				s.push(ev)
			}
		}
	}
}
