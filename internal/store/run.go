package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oriys/beacon/internal/domain"
)

// RunStore persists RunRecords for Playwright/k6 job executions.
type RunStore interface {
	CreateRun(ctx context.Context, r *domain.RunRecord) error
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)
	UpdateRun(ctx context.Context, r *domain.RunRecord) error
	ListRunsByJob(ctx context.Context, jobID string, limit int) ([]*domain.RunRecord, error)
}

func (s *PostgresStore) CreateRun(ctx context.Context, r *domain.RunRecord) error {
	if r.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, job_id, location, status, data, started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			data = EXCLUDED.data,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`, r.RunID, r.JobID, string(r.Location), string(r.Status), data, r.StartedAt, r.CompletedAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM runs WHERE run_id = $1`, runID).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	var r domain.RunRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRun is an alias for CreateRun's upsert, used by the worker once a
// run completes or transitions to running/error.
func (s *PostgresStore) UpdateRun(ctx context.Context, r *domain.RunRecord) error {
	return s.CreateRun(ctx, r)
}

func (s *PostgresStore) ListRunsByJob(ctx context.Context, jobID string, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM runs WHERE job_id = $1 ORDER BY created_at DESC LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by job: %w", err)
	}
	defer rows.Close()

	var out []*domain.RunRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var r domain.RunRecord
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run rows: %w", err)
	}
	return out, nil
}
