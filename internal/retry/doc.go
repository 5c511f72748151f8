// Package retry computes reconnect delays for stream pipelines.
//
// The policy is exponential backoff with full jitter:
//
//	exponential = base * 2^attempt
//	clamped     = min(exponential, max)
//	delay       = max(uniform[0, clamped], MinDelay)
//
// The max delay is capped at DelayCeiling no matter what the caller asks for.
// Callers own the attempt counter and decide when to stop retrying; the policy
// only answers "how long to wait before attempt N".
package retry
