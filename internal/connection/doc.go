// Package connection opens raw WebSocket connections for stream pipelines.
//
// The Factory dials one URL per call and hands back a Conn that:
//   - Emits every inbound text frame, in order, with a receive timestamp
//   - Answers server pings and sends keepalive pings of its own
//   - Reports exactly two lifecycle transitions to a StateObserver: connected
//     on open, disconnected on close or error
//   - Never retries; reconnect policy belongs to the caller
package connection
