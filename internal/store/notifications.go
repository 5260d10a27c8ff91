package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationStatus values.
type NotificationStatus string

const (
	NotificationStatusUnread NotificationStatus = "unread"
	NotificationStatusRead   NotificationStatus = "read"
	NotificationStatusAll    NotificationStatus = "all"
)

// NotificationRecord is an alert-history row surfaced to the operator UI —
// one per AlertNotification actually delivered, independent of the
// delivering channel's own retry bookkeeping.
type NotificationRecord struct {
	ID             string             `json:"id"`
	OrganizationID string             `json:"organization_id,omitempty"`
	ProjectID      string             `json:"project_id,omitempty"`
	Type           string             `json:"type"`
	Severity       string             `json:"severity"`
	Source         string             `json:"source,omitempty"`
	MonitorID      string             `json:"monitor_id,omitempty"`
	Title          string             `json:"title"`
	Message        string             `json:"message"`
	Data           json.RawMessage    `json:"data,omitempty"`
	Status         NotificationStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	ReadAt         *time.Time         `json:"read_at,omitempty"`
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *NotificationRecord) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	if strings.TrimSpace(n.ID) == "" {
		n.ID = uuid.NewString()
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("notification title is required")
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("notification message is required")
	}

	scope := OrgScopeFromContext(ctx)
	if n.OrganizationID == "" {
		n.OrganizationID = scope.OrganizationID
	}
	if n.ProjectID == "" {
		n.ProjectID = scope.ProjectID
	}
	if n.Status == "" || n.Status == NotificationStatusAll {
		n.Status = NotificationStatusUnread
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if len(n.Data) == 0 {
		n.Data = json.RawMessage(`{}`)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (
			id, organization_id, project_id, type, severity, source,
			monitor_id, title, message, data, status, created_at, read_at
		)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.OrganizationID, n.ProjectID, n.Type, n.Severity, n.Source, n.MonitorID, n.Title, n.Message, n.Data, string(n.Status), n.CreatedAt, n.ReadAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, limit, offset int, status NotificationStatus) ([]*NotificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	status = normalizeNotificationStatus(status)
	scope := OrgScopeFromContext(ctx)

	rows, err := s.pool.Query(ctx, `
		SELECT
			id, organization_id, project_id, type, severity, source,
			monitor_id, title, message, data, status, created_at, read_at
		FROM notifications
		WHERE organization_id = $1
		  AND project_id = $2
		  AND ($3 = 'all' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, scope.OrganizationID, scope.ProjectID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	records := make([]*NotificationRecord, 0)
	for rows.Next() {
		var rec NotificationRecord
		var source, monitorID *string
		var data []byte
		var readAt *time.Time
		if err := rows.Scan(
			&rec.ID,
			&rec.OrganizationID,
			&rec.ProjectID,
			&rec.Type,
			&rec.Severity,
			&source,
			&monitorID,
			&rec.Title,
			&rec.Message,
			&data,
			&rec.Status,
			&rec.CreatedAt,
			&readAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if source != nil {
			rec.Source = *source
		}
		if monitorID != nil {
			rec.MonitorID = *monitorID
		}
		if len(data) > 0 {
			rec.Data = data
		}
		rec.ReadAt = readAt
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications rows: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) GetUnreadNotificationCount(ctx context.Context) (int64, error) {
	scope := OrgScopeFromContext(ctx)

	var count int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM notifications
		WHERE organization_id = $1 AND project_id = $2 AND status = 'unread'
	`, scope.OrganizationID, scope.ProjectID).Scan(&count); err != nil {
		return 0, fmt.Errorf("get unread notification count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id string) (*NotificationRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("notification id is required")
	}
	scope := OrgScopeFromContext(ctx)

	var rec NotificationRecord
	var source, monitorID *string
	var data []byte
	var readAt *time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET status = 'read',
		    read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND organization_id = $2 AND project_id = $3
		RETURNING
			id, organization_id, project_id, type, severity, source,
			monitor_id, title, message, data, status, created_at, read_at
	`, id, scope.OrganizationID, scope.ProjectID).Scan(
		&rec.ID,
		&rec.OrganizationID,
		&rec.ProjectID,
		&rec.Type,
		&rec.Severity,
		&source,
		&monitorID,
		&rec.Title,
		&rec.Message,
		&data,
		&rec.Status,
		&rec.CreatedAt,
		&readAt,
	)
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	if source != nil {
		rec.Source = *source
	}
	if monitorID != nil {
		rec.MonitorID = *monitorID
	}
	if len(data) > 0 {
		rec.Data = data
	}
	rec.ReadAt = readAt
	return &rec, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	scope := OrgScopeFromContext(ctx)

	ct, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'read',
		    read_at = COALESCE(read_at, NOW())
		WHERE organization_id = $1
		  AND project_id = $2
		  AND status = 'unread'
	`, scope.OrganizationID, scope.ProjectID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return ct.RowsAffected(), nil
}

func normalizeNotificationStatus(status NotificationStatus) NotificationStatus {
	switch NotificationStatus(strings.ToLower(strings.TrimSpace(string(status)))) {
	case NotificationStatusUnread:
		return NotificationStatusUnread
	case NotificationStatusRead:
		return NotificationStatusRead
	case NotificationStatusAll:
		return NotificationStatusAll
	default:
		return NotificationStatusAll
	}
}
