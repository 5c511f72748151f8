package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event is one delivery on a Subscription. Err is set, and Payload empty, when
// a frame addressed to another stream arrived on this connection; such
// errors are not terminal.
type Event struct {
	Payload    json.RawMessage
	Err        error
	ReceivedAt time.Time
}

// Subscription is one logical handle on a shared stream. Close releases it.
type Subscription struct {
	key   string
	mgr   *Manager
	entry *entry

	mu       sync.Mutex
	queue    []Event
	notify   chan struct{} // signalled on push and finish
	done     bool          // no further events will be queued
	released bool          // Close was called
	err      error         // terminal error, nil on normal completion
}

func newSubscription(m *Manager, e *entry) *Subscription {
	return &Subscription{
		key:    e.key,
		mgr:    m,
		entry:  e,
		notify: make(chan struct{}, 1),
	}
}

// Key returns the stream key.
func (s *Subscription) Key() string {
	return s.key
}

// Receive blocks until the next event, the end of the subscription, or ctx is
// done. Queued events are always drained before the end is reported. At the
// end it returns the terminal error, or ErrSubscriptionClosed when the
// subscription completed normally.
func (s *Subscription) Receive(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.pop()
			s.mu.Unlock()
			return ev, nil
		}
		if s.done {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = ErrSubscriptionClosed
			}
			return Event{}, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// TryReceive returns the next queued event without blocking.
func (s *Subscription) TryReceive() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return Event{}, false
	}
	return s.pop(), true
}

// Done reports whether the subscription has ended. Queued events may remain.
func (s *Subscription) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the terminal error. It is nil while the subscription is live
// and after normal completion.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the handle. Pending events are discarded. When this was the
// last handle for its key the shared connection is torn down. Safe to call
// more than once and from inside a consumer.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.done = true
	s.queue = nil
	s.mu.Unlock()
	s.wake()

	s.mgr.release(s)
}

// pop must be called with mu held.
func (s *Subscription) pop() Event {
	ev := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = s.queue[:0:0]
	}
	return ev
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// finish ends the subscription. Events already queued stay readable.
func (s *Subscription) finish(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
