// Package router extracts the payload belonging to one logical stream from an
// inbound frame.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
)

// ErrMalformedFrame is returned for frames that are not valid JSON.
var ErrMalformedFrame = errors.New("malformed frame")

// DemuxError reports an envelope addressed to a different stream.
type DemuxError struct {
	Expected string
	Got      string
}

func (e *DemuxError) Error() string {
	return fmt.Sprintf("demux mismatch: expected stream %q, got %q", e.Expected, e.Got)
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	DemuxMismatches  int64
}

// Router demultiplexes frames. It is safe for concurrent use.
type Router struct {
	logger *slog.Logger

	received   atomic.Int64
	routed     atomic.Int64
	parseErrs  atomic.Int64
	mismatches atomic.Int64
}

// NewRouter creates a Router. A nil logger uses slog.Default().
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Demux returns the payload of data for stream key.
//
// An object carrying both "stream" and "data" is an envelope: when stream
// equals key the raw data value is returned, otherwise a *DemuxError. Any
// other valid JSON frame is returned verbatim. Invalid JSON yields
// ErrMalformedFrame.
func (r *Router) Demux(key string, data []byte) ([]byte, error) {
	r.received.Add(1)

	if !sonic.Valid(data) {
		r.parseErrs.Add(1)
		r.logger.Warn("dropping malformed frame", "stream", key, "size", len(data))
		return nil, ErrMalformedFrame
	}

	root, err := sonic.Get(data)
	if err != nil || root.TypeSafe() != ast.V_OBJECT {
		r.routed.Add(1)
		return data, nil
	}

	streamNode := root.Get("stream")
	dataNode := root.Get("data")
	if !streamNode.Exists() || !dataNode.Exists() {
		r.routed.Add(1)
		return data, nil
	}

	got, err := streamNode.StrictString()
	if err != nil {
		raw, _ := streamNode.Raw()
		got = raw
	}
	if err != nil || got != key {
		r.mismatches.Add(1)
		r.logger.Debug("envelope for another stream", "stream", key, "got", got)
		return nil, &DemuxError{Expected: key, Got: got}
	}

	payload, err := dataNode.Raw()
	if err != nil {
		r.parseErrs.Add(1)
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	r.routed.Add(1)
	return []byte(payload), nil
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrs.Load(),
		DemuxMismatches:  r.mismatches.Load(),
	}
}
