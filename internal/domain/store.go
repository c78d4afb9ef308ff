package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AlertStore persists alert history. The in-memory alert table stays
// authoritative for lifecycle decisions; the store is a write-behind record
// for dashboards and archival.
type AlertStore interface {
	Insert(ctx context.Context, alert RiskAlert) error
	Update(ctx context.Context, alert RiskAlert) error
	GetByID(ctx context.Context, id string) (RiskAlert, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]RiskAlert, error)
	ListByCategory(ctx context.Context, category AlertCategory, opts ListOpts) ([]RiskAlert, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]RiskAlert, error)
	DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

// NotificationStore persists notification delivery history.
type NotificationStore interface {
	Insert(ctx context.Context, n Notification) error
	Update(ctx context.Context, n Notification) error
	ListByAlert(ctx context.Context, alertID string) ([]Notification, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
