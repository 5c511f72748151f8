package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client implements Conn over a gorilla WebSocket connection.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger
	obs    StateObserver

	conn *websocket.Conn

	// Output
	frames chan Frame

	// Goroutine coordination
	done     chan struct{} // closed by Close
	readDone chan struct{} // closed when readLoop exits

	// State
	mu         sync.Mutex
	lastPingAt time.Time
	closed     bool
	err        error
}

func newClient(conn *websocket.Conn, cfg ClientConfig, obs StateObserver, logger *slog.Logger) *client {
	bufSize := cfg.BufferSize
	if bufSize < 0 {
		bufSize = 0
	}

	return &client{
		cfg:        cfg,
		logger:     logger,
		obs:        obs,
		conn:       conn,
		frames:     make(chan Frame, bufSize),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
		lastPingAt: time.Now(),
	}
}

// start installs ping/pong handlers and launches the read and heartbeat loops.
func (c *client) start() {
	// Server sends ping, we respond with pong
	c.conn.SetPingHandler(func(data string) error {
		c.touch()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	// Server responds to our ping
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}
}

// Frames returns the inbound frame channel.
func (c *client) Frames() <-chan Frame {
	return c.frames
}

// Err reports why the connection terminated.
func (c *client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// fail records the first terminal error unless the connection was closed
// locally.
func (c *client) fail(err error) {
	c.mu.Lock()
	if !c.closed && c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// readLoop forwards frames until the socket errors or Close is called.
// Frames are never dropped; a slow consumer applies backpressure to the socket.
func (c *client) readLoop() {
	defer func() {
		c.obs.SetState(StateDisconnected)
		close(c.readDone)
		close(c.frames)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.fail(err)
			return
		}

		select {
		case c.frames <- Frame{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop sends keepalive pings and tears the socket down when the peer
// goes quiet for longer than PingTimeout.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.fail(ErrStaleConnection)
				c.conn.Close()
				return
			}
		}
	}
}
