package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewatch/sentinel/internal/domain"
)

// NotificationStore implements domain.NotificationStore using PostgreSQL.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a new NotificationStore backed by the given
// connection pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// Insert persists a new notification record.
func (s *NotificationStore) Insert(ctx context.Context, n domain.Notification) error {
	const query = `
		INSERT INTO notifications (
			id, alert_id, channel, recipient, status,
			retry_count, next_retry_at, last_error, created_at, sent_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)`
	_, err := s.pool.Exec(ctx, query,
		n.ID, n.AlertID, n.Channel, n.Recipient, n.Status,
		n.RetryCount, n.NextRetryAt, n.LastError, n.CreatedAt, n.SentAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert notification %s: %w", n.ID, err)
	}
	return nil
}

// Update rewrites the delivery state of an existing notification.
func (s *NotificationStore) Update(ctx context.Context, n domain.Notification) error {
	const query = `
		UPDATE notifications SET
			status = $2,
			retry_count = $3,
			next_retry_at = $4,
			last_error = $5,
			sent_at = $6
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		n.ID, n.Status, n.RetryCount, n.NextRetryAt, n.LastError, n.SentAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update notification %s: %w", n.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByAlert returns all notifications for an alert, oldest first.
func (s *NotificationStore) ListByAlert(ctx context.Context, alertID string) ([]domain.Notification, error) {
	const query = `
		SELECT id, alert_id, channel, recipient, status,
			retry_count, next_retry_at, last_error, created_at, sent_at
		FROM notifications
		WHERE alert_id = $1
		ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, alertID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications by alert: %w", err)
	}
	defer rows.Close()

	var notes []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID, &n.AlertID, &n.Channel, &n.Recipient, &n.Status,
			&n.RetryCount, &n.NextRetryAt, &n.LastError, &n.CreatedAt, &n.SentAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan notification: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list notifications rows: %w", err)
	}
	return notes, nil
}

// Compile-time interface check.
var _ domain.NotificationStore = (*NotificationStore)(nil)
