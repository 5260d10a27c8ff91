package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oriys/beacon/internal/domain"
)

// MonitorStore persists MonitorSpec rows. Only the dispatcher and
// aggregator mutate Status/LastCheckAt/LastStatusChangeAt/LastRunAt/NextRunAt;
// everything else is owned by the (external) REST surface.
type MonitorStore interface {
	SaveMonitor(ctx context.Context, m *domain.MonitorSpec) error
	GetMonitor(ctx context.Context, id string) (*domain.MonitorSpec, error)
	ListMonitorsDue(ctx context.Context, before time.Time) ([]*domain.MonitorSpec, error)
	ListMonitorsByStatus(ctx context.Context, status domain.MonitorStatus) ([]*domain.MonitorSpec, error)
	ListMonitors(ctx context.Context, limit int) ([]*domain.MonitorSpec, error)
	UpdateMonitorRunBookkeeping(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error
	UpdateMonitorStatus(ctx context.Context, id string, status domain.MonitorStatus, changedAt time.Time) error
}

func (s *PostgresStore) SaveMonitor(ctx context.Context, m *domain.MonitorSpec) error {
	if m.ID == "" {
		return fmt.Errorf("monitor id is required")
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal monitor: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO monitors (id, organization_id, project_id, kind, status, data, next_run_at, last_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			project_id = EXCLUDED.project_id,
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			data = EXCLUDED.data,
			next_run_at = EXCLUDED.next_run_at,
			last_run_at = EXCLUDED.last_run_at,
			updated_at = EXCLUDED.updated_at
	`, m.ID, m.OrganizationID, m.ProjectID, string(m.Kind), string(m.Status), data, m.NextRunAt, m.LastRunAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save monitor: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMonitor(ctx context.Context, id string) (*domain.MonitorSpec, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM monitors WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("monitor not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get monitor: %w", err)
	}
	var m domain.MonitorSpec
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMonitorsDue returns enabled monitors whose next_run_at has passed,
// used by the dispatcher to decide what to fan out this tick.
func (s *PostgresStore) ListMonitorsDue(ctx context.Context, before time.Time) ([]*domain.MonitorSpec, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM monitors
		WHERE status != 'paused' AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at ASC NULLS FIRST
	`, before)
	if err != nil {
		return nil, fmt.Errorf("list due monitors: %w", err)
	}
	defer rows.Close()
	return scanMonitors(rows)
}

func (s *PostgresStore) ListMonitorsByStatus(ctx context.Context, status domain.MonitorStatus) ([]*domain.MonitorSpec, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM monitors WHERE status = $1 ORDER BY updated_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list monitors by status: %w", err)
	}
	defer rows.Close()
	return scanMonitors(rows)
}

// ListMonitors returns every monitor regardless of status, most recently
// updated first, for the operator CLI's `monitor list` (capped at limit).
func (s *PostgresStore) ListMonitors(ctx context.Context, limit int) ([]*domain.MonitorSpec, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT data FROM monitors ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()
	return scanMonitors(rows)
}

func scanMonitors(rows pgx.Rows) ([]*domain.MonitorSpec, error) {
	var out []*domain.MonitorSpec
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan monitor: %w", err)
		}
		var m domain.MonitorSpec
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor rows: %w", err)
	}
	return out, nil
}

// UpdateMonitorRunBookkeeping updates last/next run timestamps only,
// called by the dispatcher immediately after enqueuing a monitor's tick.
func (s *PostgresStore) UpdateMonitorRunBookkeeping(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE monitors SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, lastRunAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("update monitor run bookkeeping: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("monitor not found: %s", id)
	}
	return nil
}

// UpdateMonitorStatus is called exclusively by the aggregator once a
// barrier completes and a new aggregate status is computed.
func (s *PostgresStore) UpdateMonitorStatus(ctx context.Context, id string, status domain.MonitorStatus, changedAt time.Time) error {
	// last_status_change_at lives inside the JSONB document, not a
	// dedicated column, so it's updated via jsonb_set alongside the
	// indexed status column used by ListMonitorsByStatus.
	ct, err := s.pool.Exec(ctx, `
		UPDATE monitors SET status = $2,
			data = jsonb_set(data, '{last_status_change_at}', to_jsonb($3::timestamptz)),
			updated_at = NOW()
		WHERE id = $1
	`, id, string(status), changedAt)
	if err != nil {
		return fmt.Errorf("update monitor status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("monitor not found: %s", id)
	}
	return nil
}
