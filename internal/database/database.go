package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN and checks that
// the server answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Schema is the history table. Categories and the finding lists are stored
// as JSONB since they are only ever read back whole.
const Schema = `
CREATE TABLE IF NOT EXISTS validation_results (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	total_criteria INTEGER NOT NULL,
	passed_criteria INTEGER NOT NULL,
	status TEXT NOT NULL,
	processed_time TEXT NOT NULL DEFAULT '',
	categories JSONB NOT NULL DEFAULT '[]',
	issues JSONB NOT NULL DEFAULT '[]',
	recommendations JSONB NOT NULL DEFAULT '[]',
	strengths JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validation_results_file_id ON validation_results(file_id);
CREATE INDEX IF NOT EXISTS idx_validation_results_created_at ON validation_results(created_at DESC);`

// EnsureSchema creates the history table if needed so a fresh database works
// without a separate migration step.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
