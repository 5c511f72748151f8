package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/market-stream/internal/connection"
)

// fakeConn is an in-memory connection driven by the test.
type fakeConn struct {
	url    string
	obs    connection.StateObserver
	frames chan connection.Frame

	mu     sync.Mutex
	closed bool
	err    error
}

func (c *fakeConn) Frames() <-chan connection.Frame { return c.frames }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.end(nil)
	return nil
}

// send queues a text frame. Frames sent after the connection ended are dropped.
func (c *fakeConn) send(data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.frames <- connection.Frame{Data: []byte(data), ReceivedAt: time.Now()}
}

// end terminates the connection as the peer would.
func (c *fakeConn) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.frames)
	c.obs.SetState(connection.StateDisconnected)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFactory records every Open and hands out fakeConns.
type fakeFactory struct {
	mu      sync.Mutex
	opens   map[string]int
	conns   map[string][]*fakeConn
	failErr error
	gate    chan struct{} // when set, Open waits for it to close
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		opens: make(map[string]int),
		conns: make(map[string][]*fakeConn),
	}
}

func (f *fakeFactory) Open(ctx context.Context, url string, obs connection.StateObserver) (connection.Conn, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens[url]++
	obs.SetState(connection.StateConnecting)

	if f.failErr != nil {
		obs.SetState(connection.StateDisconnected)
		return nil, f.failErr
	}

	c := &fakeConn{
		url:    url,
		obs:    obs,
		frames: make(chan connection.Frame, 64),
	}
	f.conns[url] = append(f.conns[url], c)
	obs.SetState(connection.StateConnected)
	return c, nil
}

func (f *fakeFactory) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeFactory) openCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[url]
}

// waitConn waits for the n-th (1-based) connection to url.
func (f *fakeFactory) waitConn(t *testing.T, url string, n int) *fakeConn {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		conns := f.conns[url]
		if len(conns) >= n {
			c := conns[n-1]
			f.mu.Unlock()
			return c
		}
		f.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for connection %d to %s", n, url)
	return nil
}

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// delayRecorder replaces the backoff sleep and records requested delays.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) wait(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err() == nil
}

func (r *delayRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}
