package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/market-stream/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// SchemaSQL creates the archive table when it does not exist.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS stream_payloads (
	stream_key  TEXT   NOT NULL,
	received_at BIGINT NOT NULL,
	payload     JSONB  NOT NULL
);
CREATE INDEX IF NOT EXISTS stream_payloads_key_time_idx
	ON stream_payloads (stream_key, received_at DESC);
`

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the archive table and index.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
