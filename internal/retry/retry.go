package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Delay bounds.
const (
	MinDelay         = 100 * time.Millisecond
	DelayCeiling     = 30 * time.Second
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Preview describes the delay computation for one attempt without drawing
// any randomness.
type Preview struct {
	Attempt          int           `json:"attempt"`
	ExponentialDelay time.Duration `json:"exponentialDelay"`
	ClampedDelay     time.Duration `json:"clampedDelay"`
	MinDelay         time.Duration `json:"minDelay"`
	MaxDelay         time.Duration `json:"maxDelay"`
}

// Policy computes full-jitter exponential backoff delays.
// It is stateless apart from its configuration and safe for concurrent use.
type Policy struct {
	base time.Duration
	max  time.Duration

	// int64n draws uniformly from [0, n). Replaced in tests.
	int64n func(n int64) int64
}

// NewPolicy creates a policy. Non-positive values fall back to the defaults
// and maxDelay is capped at DelayCeiling.
func NewPolicy(baseDelay, maxDelay time.Duration) *Policy {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay > DelayCeiling {
		maxDelay = DelayCeiling
	}

	return &Policy{
		base:   baseDelay,
		max:    maxDelay,
		int64n: rand.Int64N,
	}
}

// BaseDelay returns the configured base delay.
func (p *Policy) BaseDelay() time.Duration {
	return p.base
}

// MaxDelay returns the effective (capped) max delay.
func (p *Policy) MaxDelay() time.Duration {
	return p.max
}

// Delay returns how long to wait before retry number attempt (0-based).
// The result is drawn uniformly from [0, clamped] and floored at MinDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	clamped := p.Preview(attempt).ClampedDelay

	jittered := time.Duration(p.int64n(int64(clamped) + 1))
	if jittered < MinDelay {
		return MinDelay
	}
	return jittered
}

// Preview reports the uncapped exponential delay and the clamped delay for
// an attempt. It is deterministic.
func (p *Policy) Preview(attempt int) Preview {
	if attempt < 0 {
		attempt = 0
	}

	exponential := exponentialDelay(p.base, attempt)
	clamped := exponential
	if clamped > p.max {
		clamped = p.max
	}

	return Preview{
		Attempt:          attempt,
		ExponentialDelay: exponential,
		ClampedDelay:     clamped,
		MinDelay:         MinDelay,
		MaxDelay:         p.max,
	}
}

// exponentialDelay returns base * 2^attempt, saturating at the largest
// representable duration.
func exponentialDelay(base time.Duration, attempt int) time.Duration {
	v := float64(base) * math.Pow(2, float64(attempt))
	if v >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(v)
}
