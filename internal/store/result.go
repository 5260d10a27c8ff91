package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oriys/beacon/internal/domain"
)

// ResultStore persists per-(monitor, location) check results.
type ResultStore interface {
	SaveResult(ctx context.Context, r *domain.MonitorResultRecord) error
	LatestResultByLocation(ctx context.Context, monitorID, executionGroupID string) (map[domain.LocationCode]*domain.MonitorResultRecord, error)
	LatestResult(ctx context.Context, monitorID string, location domain.LocationCode) (*domain.MonitorResultRecord, error)
	IncrementAlertsSent(ctx context.Context, monitorID string, kind domain.AlertKind) error
}

func (s *PostgresStore) SaveResult(ctx context.Context, r *domain.MonitorResultRecord) error {
	if r.MonitorID == "" || r.Location == "" {
		return fmt.Errorf("monitor id and location are required")
	}
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO monitor_results (monitor_id, location, execution_group_id, checked_at, data, is_up)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, r.MonitorID, string(r.Location), r.ExecutionGroupID, r.CheckedAt, data, r.IsUp)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// LatestResultByLocation is the aggregation read: the
// most recent result row per location within the given execution group,
// via DISTINCT ON ordered by checked_at descending.
func (s *PostgresStore) LatestResultByLocation(ctx context.Context, monitorID, executionGroupID string) (map[domain.LocationCode]*domain.MonitorResultRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (location) data
		FROM monitor_results
		WHERE monitor_id = $1 AND execution_group_id = $2
		ORDER BY location, checked_at DESC
	`, monitorID, executionGroupID)
	if err != nil {
		return nil, fmt.Errorf("latest results by location: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.LocationCode]*domain.MonitorResultRecord)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var r domain.MonitorResultRecord
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		out[r.Location] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("result rows: %w", err)
	}
	return out, nil
}

// LatestResult returns the single most recent result for (monitorID,
// location), used to compute NextCounters before inserting a new row.
func (s *PostgresStore) LatestResult(ctx context.Context, monitorID string, location domain.LocationCode) (*domain.MonitorResultRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM monitor_results
		WHERE monitor_id = $1 AND location = $2
		ORDER BY checked_at DESC LIMIT 1
	`, monitorID, string(location)).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest result: %w", err)
	}
	var r domain.MonitorResultRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// IncrementAlertsSent bumps the alerts-sent counter named by kind on the
// most recent result row for monitorID, so the row itself records how many
// alerts its failure/recovery streak has produced. The result table is
// append-only for check outcomes; this is the one sanctioned in-place
// mutation, confined to the counter field inside the JSONB document.
func (s *PostgresStore) IncrementAlertsSent(ctx context.Context, monitorID string, kind domain.AlertKind) error {
	field := "alerts_sent_for_failure"
	if kind == domain.AlertRecovery {
		field = "alerts_sent_for_recovery"
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE monitor_results
		SET data = jsonb_set(data, '{%s}', to_jsonb(COALESCE((data->>'%s')::int, 0) + 1))
		WHERE id = (
			SELECT id FROM monitor_results
			WHERE monitor_id = $1
			ORDER BY checked_at DESC LIMIT 1
		)
	`, field, field), monitorID)
	if err != nil {
		return fmt.Errorf("increment alerts sent: %w", err)
	}
	return nil
}
