// Package postgres opens the database handles shared by the PostgreSQL stores.
//
// The journal, snapshot and checkpoint stores use database/sql with lib/pq.
// The read model uses a pgx pool. Both point at the same database.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"accounts/internal/platform/config"
)

//go:embed schema.sql
var schema string

// Handles bundles the two connection types opened against one database.
type Handles struct {
	DB   *sql.DB
	Pool *pgxpool.Pool
}

// Open connects both handles and verifies connectivity.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Handles, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = db.Close()
		return nil, fmt.Errorf("ping pgx pool: %w", err)
	}

	return &Handles{DB: db, Pool: pool}, nil
}

// Health pings both handles.
func (h *Handles) Health(ctx context.Context) error {
	if err := h.DB.PingContext(ctx); err != nil {
		return err
	}
	return h.Pool.Ping(ctx)
}

// Close releases both handles.
func (h *Handles) Close() error {
	h.Pool.Close()
	return h.DB.Close()
}

// EnsureSchema creates the tables the stores need if they are missing.
// It is idempotent bootstrap, not a migration system.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
