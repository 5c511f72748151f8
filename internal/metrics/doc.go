// Package metrics provides Prometheus metrics for the stream manager.
//
// Key metrics:
//   - ws_manager_active_connections (gauge)
//   - ws_manager_active_connections_hwm (gauge)
//   - ws_manager_retry_count_total (counter)
//   - ws_manager_stream_creations_total (counter)
//   - ws_manager_stream_cleanups_total (counter)
//
// Values live in atomics and are exposed to Prometheus through function
// collectors, so reading a snapshot or rendering the text exposition never
// blocks writers.
package metrics
