package compat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/stream"
)

var (
	// ErrNotInitialized is returned by every method of an Adapter that was not
	// built with NewAdapter.
	ErrNotInitialized = errors.New("compat adapter not initialized: construct it with NewAdapter")

	// ErrNilHandler is returned when Subscribe is given a nil handler.
	ErrNilHandler = errors.New("nil handler")
)

// Handler receives one payload.
type Handler func(payload json.RawMessage)

// Streams is the registry the adapter subscribes through.
type Streams interface {
	Subscribe(key string) (*stream.Subscription, error)
	ConnectionState() connection.ConnectionState
}

type registration struct {
	id         uuid.UUID
	fn         Handler
	persistent bool // survives normal completion of the stream
}

// feed is the adapter's single subscription for one key.
type feed struct {
	key      string
	sub      *stream.Subscription
	handlers []registration
}

// Adapter exposes subscribe(key, handler) over a Streams registry.
type Adapter struct {
	streams Streams
	logger  *slog.Logger

	mu    sync.Mutex
	feeds map[string]*feed
}

// NewAdapter creates an Adapter. A nil logger uses slog.Default().
func NewAdapter(streams Streams, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		streams: streams,
		logger:  logger,
		feeds:   make(map[string]*feed),
	}
}

func (a *Adapter) ready() error {
	if a == nil || a.streams == nil || a.feeds == nil {
		return ErrNotInitialized
	}
	return nil
}

// Subscribe registers h for key and returns a func that removes exactly that
// registration. The returned func is safe to call more than once. h is
// detached when the stream ends for any reason.
func (a *Adapter) Subscribe(key string, h Handler) (func(), error) {
	return a.subscribe(key, h, false)
}

// SubscribePersistent is Subscribe for long-lived consumers: when the stream
// completes normally, for example because it was reaped as idle, h moves to a
// fresh subscription for key. A terminal stream failure still detaches it.
func (a *Adapter) SubscribePersistent(key string, h Handler) (func(), error) {
	return a.subscribe(key, h, true)
}

func (a *Adapter) subscribe(key string, h Handler, persistent bool) (func(), error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNilHandler
	}

	a.mu.Lock()
	f := a.feeds[key]
	if f != nil && f.sub.Done() {
		// Ended but not yet collected by its pump.
		f = a.renewLocked(f)
	}
	if f == nil {
		sub, err := a.streams.Subscribe(key)
		if err != nil {
			a.mu.Unlock()
			return nil, fmt.Errorf("subscribe %q: %w", key, err)
		}
		f = &feed{key: key, sub: sub}
		a.feeds[key] = f
		go a.pump(f)
	}

	id := uuid.New()
	f.handlers = append(f.handlers, registration{id: id, fn: h, persistent: persistent})
	a.mu.Unlock()

	a.logger.Debug("handler registered", "stream", key, "id", id, "persistent", persistent)

	var once sync.Once
	return func() {
		once.Do(func() { a.remove(key, id) })
	}, nil
}

// renewLocked retires f, which has completed normally, and moves its
// persistent handlers to a new subscription. It returns the new feed, or nil
// when nothing was carried over. It must be called with mu held.
func (a *Adapter) renewLocked(f *feed) *feed {
	delete(a.feeds, f.key)

	var kept []registration
	for _, r := range f.handlers {
		if r.persistent {
			kept = append(kept, r)
		}
	}
	if dropped := len(f.handlers) - len(kept); dropped > 0 {
		a.logger.Warn("stream completed, handlers detached", "stream", f.key, "handlers", dropped)
	}
	if len(kept) == 0 {
		return nil
	}

	sub, err := a.streams.Subscribe(f.key)
	if err != nil {
		a.logger.Warn("resubscribe failed, handlers detached",
			"stream", f.key,
			"handlers", len(kept),
			"error", err,
		)
		return nil
	}

	nf := &feed{key: f.key, sub: sub, handlers: kept}
	a.feeds[f.key] = nf
	go a.pump(nf)

	a.logger.Info("stream resubscribed", "stream", f.key, "handlers", len(kept))
	return nf
}

// remove drops one registration and releases the feed when it was the last.
func (a *Adapter) remove(key string, id uuid.UUID) {
	a.mu.Lock()
	f := a.feeds[key]
	if f == nil {
		a.mu.Unlock()
		return
	}

	found := false
	for i, r := range f.handlers {
		if r.id == id {
			f.handlers = append(f.handlers[:i], f.handlers[i+1:]...)
			found = true
			break
		}
	}
	empty := found && len(f.handlers) == 0
	if empty {
		delete(a.feeds, key)
	}
	a.mu.Unlock()

	if empty {
		f.sub.Close()
	}
}

// handlersFor returns a snapshot of f's handlers, or nil once f is released.
func (a *Adapter) handlersFor(f *feed) []registration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.feeds[f.key] != f {
		return nil
	}
	return append([]registration(nil), f.handlers...)
}

// pump delivers f's events until its subscription ends.
func (a *Adapter) pump(f *feed) {
	for {
		ev, err := f.sub.Receive(context.Background())
		if err != nil {
			a.finish(f, err)
			return
		}

		if ev.Err != nil {
			a.logger.Warn("stream delivered an error", "stream", f.key, "error", ev.Err)
			continue
		}

		for _, r := range a.handlersFor(f) {
			a.invoke(f.key, r, ev.Payload)
		}
	}
}

// finish handles the end of f's subscription. Feeds the adapter released
// itself are already gone from the table and need nothing.
func (a *Adapter) finish(f *feed, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.feeds[f.key] != f {
		return
	}
	if errors.Is(err, stream.ErrSubscriptionClosed) {
		a.renewLocked(f)
		return
	}

	delete(a.feeds, f.key)
	a.logger.Error("stream failed, handlers detached",
		"stream", f.key,
		"handlers", len(f.handlers),
		"error", err,
	)
}

func (a *Adapter) invoke(key string, r registration, payload json.RawMessage) {
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("handler panicked", "stream", key, "id", r.id, "panic", p)
		}
	}()
	r.fn(payload)
}

// ConnectionStatus samples the connection state once and reports whether it
// is connected.
func (a *Adapter) ConnectionStatus() (bool, error) {
	if err := a.ready(); err != nil {
		return false, err
	}
	return a.streams.ConnectionState() == connection.StateConnected, nil
}

// HandlerCount returns the number of handlers registered for key.
func (a *Adapter) HandlerCount(key string) (int, error) {
	if err := a.ready(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.feeds[key]; ok {
		return len(f.handlers), nil
	}
	return 0, nil
}

// Disconnect releases every subscription the adapter holds. The registry
// itself is left running. The adapter stays usable.
func (a *Adapter) Disconnect() error {
	if err := a.ready(); err != nil {
		return err
	}

	a.mu.Lock()
	feeds := make([]*feed, 0, len(a.feeds))
	for _, f := range a.feeds {
		feeds = append(feeds, f)
	}
	clear(a.feeds)
	a.mu.Unlock()

	for _, f := range feeds {
		f.sub.Close()
	}

	a.logger.Info("compat adapter disconnected", "streams", len(feeds))
	return nil
}
