// Package writer implements the payload archive.
//
// The ArchiveWriter subscribes to configured streams through the callback
// adapter and batch inserts raw payloads into TimescaleDB. Writes are
// append-only: rows are never updated.
package writer
