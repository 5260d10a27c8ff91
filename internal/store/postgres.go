package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the persistent backing store for monitors, runs,
// per-location results, and notifications. Each domain gets its
// own file (monitor.go, run.go, result.go, notifications.go);
// this file only owns the pool lifecycle and schema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS monitors (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			data JSONB NOT NULL,
			next_run_at TIMESTAMPTZ,
			last_run_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitors_org ON monitors(organization_id, project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_monitors_status ON monitors(status)`,

		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			data JSONB NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS monitor_results (
			id BIGSERIAL PRIMARY KEY,
			monitor_id TEXT NOT NULL,
			location TEXT NOT NULL,
			execution_group_id TEXT NOT NULL DEFAULT '',
			checked_at TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL,
			is_up BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_monitor_loc_time ON monitor_results(monitor_id, location, checked_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_results_group ON monitor_results(execution_group_id)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL DEFAULT 'default',
			project_id TEXT NOT NULL DEFAULT 'default',
			type TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'info',
			source TEXT NOT NULL DEFAULT '',
			monitor_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			data JSONB,
			status TEXT NOT NULL DEFAULT 'unread',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			read_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_org ON notifications(organization_id, project_id, status)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
