// Package database manages the TimescaleDB connection pool used by the payload
// archive.
//
// Archived payloads land in a single hypertable-ready table:
//
//	stream_payloads(stream_key text, received_at bigint, payload jsonb)
//
// received_at is Unix microseconds.
package database
