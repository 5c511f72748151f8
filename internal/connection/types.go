package connection

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrStaleConnection is recorded when the peer stops answering pings.
var ErrStaleConnection = errors.New("connection stale (no ping)")

// ConnectionState is the most recently observed transition across all
// managed sockets.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StateObserver receives connection lifecycle transitions.
type StateObserver interface {
	SetState(ConnectionState)
}

// Frame is one inbound message with its local receive time.
type Frame struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Conn is one open physical connection.
type Conn interface {
	// Frames yields inbound frames in wire order. It is closed once the
	// connection has terminated for any reason.
	Frames() <-chan Frame

	// Err reports why the connection terminated. It is nil while the
	// connection is open and after a local Close.
	Err() error

	// Close shuts the connection down. Safe to call more than once.
	Close() error
}

// Factory opens connections. Open returns once the connection is established
// (the opened signal) or failed. It does not retry.
type Factory interface {
	Open(ctx context.Context, url string, obs StateObserver) (Conn, error)
}

// ClientConfig configures WebSocket connections.
type ClientConfig struct {
	HandshakeTimeout time.Duration // Dial handshake deadline
	PingInterval     time.Duration // How often to send keepalive pings
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for control frames
	BufferSize       int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// StreamURL appends key to base as a path segment without doubling the
// separator.
func StreamURL(base, key string) string {
	if strings.HasSuffix(base, "/") {
		return base + key
	}
	return base + "/" + key
}
