package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, 0)

	assert.Equal(t, DefaultBaseDelay, p.BaseDelay())
	assert.Equal(t, DefaultMaxDelay, p.MaxDelay())
}

func TestNewPolicy_CapsMaxDelay(t *testing.T) {
	p := NewPolicy(time.Second, 60*time.Second)

	assert.Equal(t, 30*time.Second, p.MaxDelay())
	assert.Equal(t, 30*time.Second, p.Preview(10).MaxDelay)
}

func TestPolicy_Preview(t *testing.T) {
	p := NewPolicy(time.Second, 30*time.Second)

	tests := []struct {
		attempt     int
		exponential time.Duration
		clamped     time.Duration
	}{
		{0, time.Second, time.Second},
		{1, 2 * time.Second, 2 * time.Second},
		{4, 16 * time.Second, 16 * time.Second},
		{5, 32 * time.Second, 30 * time.Second},
		{10, 1024 * time.Second, 30 * time.Second},
		{-3, time.Second, time.Second},
	}

	for _, tt := range tests {
		got := p.Preview(tt.attempt)
		assert.Equal(t, tt.exponential, got.ExponentialDelay, "attempt %d exponential", tt.attempt)
		assert.Equal(t, tt.clamped, got.ClampedDelay, "attempt %d clamped", tt.attempt)
		assert.Equal(t, MinDelay, got.MinDelay)
		assert.Equal(t, 30*time.Second, got.MaxDelay)
	}
}

func TestPolicy_PreviewSaturates(t *testing.T) {
	p := NewPolicy(time.Second, 30*time.Second)

	got := p.Preview(200)
	assert.Greater(t, got.ExponentialDelay, time.Duration(0))
	assert.Equal(t, 30*time.Second, got.ClampedDelay)
}

func TestPolicy_DelayBounds(t *testing.T) {
	p := NewPolicy(time.Second, 30*time.Second)

	for attempt := 0; attempt <= 12; attempt++ {
		upper := p.Preview(attempt).ClampedDelay
		for i := 0; i < 200; i++ {
			d := p.Delay(attempt)
			require.GreaterOrEqual(t, d, MinDelay, "attempt %d", attempt)
			require.LessOrEqual(t, d, upper, "attempt %d", attempt)
		}
	}
}

func TestPolicy_DelayFloorsAtMinDelay(t *testing.T) {
	p := NewPolicy(time.Second, 30*time.Second)
	p.int64n = func(n int64) int64 { return 0 }

	assert.Equal(t, MinDelay, p.Delay(3))
}

func TestPolicy_DelayUsesFullRange(t *testing.T) {
	p := NewPolicy(time.Second, 30*time.Second)

	var maxSeen int64
	p.int64n = func(n int64) int64 {
		maxSeen = n
		return n - 1
	}

	// The draw covers the whole [0, clamped] interval.
	assert.Equal(t, 30*time.Second, p.Delay(10))
	assert.Equal(t, int64(30*time.Second)+1, maxSeen)
}

func TestPolicy_DelaySpreadsAcrossInterval(t *testing.T) {
	p := NewPolicy(time.Second, 30*time.Second)

	var low, high int
	for i := 0; i < 1000; i++ {
		d := p.Delay(10)
		if d < 10*time.Second {
			low++
		}
		if d > 20*time.Second {
			high++
		}
	}

	assert.Positive(t, low, "full jitter should produce short delays")
	assert.Positive(t, high, "full jitter should produce long delays")
}
