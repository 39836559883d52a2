package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// startupPingTimeout bounds the connectivity probe inside NewDBPool.
const startupPingTimeout = 3 * time.Second

// NewDBPool opens a pgx pool for the chat store and verifies it can hand out
// a connection before anyone depends on it. Schema DDL is applied out of
// process; the server only assumes the tables are there.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// Tag sessions so the server is identifiable in pg_stat_activity.
	pcfg.ConnConfig.RuntimeParams["application_name"] = "parley"
	pcfg.MaxConns = fallback(cfg.DBMaxConns, pcfg.MaxConns)
	pcfg.MinConns = fallback(cfg.DBMinConns, pcfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := PingDB(ctx, pool, startupPingTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PingDB round-trips one connection within timeout. Used at startup and by
// the readiness probe.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
