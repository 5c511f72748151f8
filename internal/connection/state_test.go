package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateSignal_LoadAndWatch(t *testing.T) {
	s := NewStateSignal()
	assert.Equal(t, StateDisconnected, s.Load())

	ch, cancel := s.Watch()

	s.SetState(StateConnecting)
	assert.Equal(t, StateConnecting, <-ch)

	// A slow watcher only sees the newest value.
	s.SetState(StateConnected)
	s.SetState(StateDisconnected)
	assert.Equal(t, StateDisconnected, <-ch)
	assert.Equal(t, StateDisconnected, s.Load())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "channel closed after cancel")

	// Transitions after cancel do not block.
	s.SetState(StateConnected)
	assert.Equal(t, StateConnected, s.Load())
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}
