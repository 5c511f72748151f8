package connection

import "sync"

// StateSignal holds the latest ConnectionState and fans transitions out to
// watchers. It implements StateObserver.
type StateSignal struct {
	mu       sync.Mutex
	state    ConnectionState
	watchers map[int]chan ConnectionState
	nextID   int
}

// NewStateSignal returns a signal starting in StateDisconnected.
func NewStateSignal() *StateSignal {
	return &StateSignal{
		watchers: make(map[int]chan ConnectionState),
	}
}

// Load returns the current state.
func (s *StateSignal) Load() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState records a transition and notifies watchers. Slow watchers only
// ever see the newest value.
func (s *StateSignal) SetState(state ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
}

// Watch returns a channel receiving every transition from now on and a
// cancel func that must be called to release it.
func (s *StateSignal) Watch() (<-chan ConnectionState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan ConnectionState, 1)
	s.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
