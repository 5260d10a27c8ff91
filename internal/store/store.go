package store

import "context"

// Store composes every persistence concern the worker/dispatcher/aggregator
// need behind one handle.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	MonitorStore
	RunStore
	ResultStore

	CreateNotification(ctx context.Context, n *NotificationRecord) error
	ListNotifications(ctx context.Context, limit, offset int, status NotificationStatus) ([]*NotificationRecord, error)
	GetUnreadNotificationCount(ctx context.Context) (int64, error)
	MarkNotificationRead(ctx context.Context, id string) (*NotificationRecord, error)
	MarkAllNotificationsRead(ctx context.Context) (int64, error)
}

var _ Store = (*PostgresStore)(nil)
