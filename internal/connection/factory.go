package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rickgao/market-stream/internal/connection"

// WSFactory dials WebSocket connections with gorilla/websocket.
type WSFactory struct {
	cfg    ClientConfig
	logger *slog.Logger
	dialer *websocket.Dialer
	tracer trace.Tracer
	header http.Header
}

// NewWSFactory creates a factory. A nil logger uses slog.Default().
func NewWSFactory(cfg ClientConfig, logger *slog.Logger) *WSFactory {
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	return &WSFactory{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		tracer: otel.Tracer(tracerName),
		header: header,
	}
}

// Open dials url. The observer sees connecting, then connected on success or
// disconnected on failure, and disconnected again when the returned Conn
// terminates.
func (f *WSFactory) Open(ctx context.Context, url string, obs StateObserver) (Conn, error) {
	if obs == nil {
		obs = nopObserver{}
	}

	ctx, span := f.tracer.Start(ctx, "connection.open",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("ws.url", url)),
	)
	defer span.End()

	obs.SetState(StateConnecting)

	conn, resp, err := f.dialer.DialContext(ctx, url, f.header)
	if err != nil {
		obs.SetState(StateDisconnected)
		if resp != nil {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := newClient(conn, f.cfg, obs, f.logger.With("url", url))
	obs.SetState(StateConnected)
	c.start()

	f.logger.Debug("websocket connected", "url", url)

	return c, nil
}

type nopObserver struct{}

func (nopObserver) SetState(ConnectionState) {}
