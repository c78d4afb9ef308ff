package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewatch/sentinel/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertSelectCols = `id, category, severity, title, description,
	threshold_value, observed_value, status, user_id, metadata,
	created_at, acknowledged_at, acknowledged_by, resolved_at`

func scanAlert(row pgx.Row) (domain.RiskAlert, error) {
	var a domain.RiskAlert
	var metadataJSON []byte
	err := row.Scan(
		&a.ID, &a.Category, &a.Severity, &a.Title, &a.Description,
		&a.ThresholdValue, &a.ObservedValue, &a.Status, &a.UserID, &metadataJSON,
		&a.CreatedAt, &a.AcknowledgedAt, &a.AcknowledgedBy, &a.ResolvedAt,
	)
	if err != nil {
		return domain.RiskAlert{}, err
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
			return domain.RiskAlert{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return a, nil
}

func scanAlertRows(rows pgx.Rows) ([]domain.RiskAlert, error) {
	var alerts []domain.RiskAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Insert persists a new alert.
func (s *AlertStore) Insert(ctx context.Context, alert domain.RiskAlert) error {
	metadataJSON, err := json.Marshal(alert.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal alert metadata: %w", err)
	}

	const query = `
		INSERT INTO alerts (
			id, category, severity, title, description,
			threshold_value, observed_value, status, user_id, metadata,
			created_at, acknowledged_at, acknowledged_by, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)`
	_, err = s.pool.Exec(ctx, query,
		alert.ID, alert.Category, alert.Severity, alert.Title, alert.Description,
		alert.ThresholdValue, alert.ObservedValue, alert.Status, alert.UserID, metadataJSON,
		alert.CreatedAt, alert.AcknowledgedAt, alert.AcknowledgedBy, alert.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// Update rewrites the mutable lifecycle fields of an existing alert.
func (s *AlertStore) Update(ctx context.Context, alert domain.RiskAlert) error {
	const query = `
		UPDATE alerts SET
			status = $2,
			acknowledged_at = $3,
			acknowledged_by = $4,
			resolved_at = $5
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		alert.ID, alert.Status, alert.AcknowledgedAt, alert.AcknowledgedBy, alert.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update alert %s: %w", alert.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns a single alert, or domain.ErrNotFound.
func (s *AlertStore) GetByID(ctx context.Context, id string) (domain.RiskAlert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskAlert{}, domain.ErrNotFound
		}
		return domain.RiskAlert{}, fmt.Errorf("postgres: get alert %s: %w", id, err)
	}
	return a, nil
}

// ListByUser returns alerts for a user with pagination and time filtering.
func (s *AlertStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.RiskAlert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM alerts WHERE user_id = $1`
	args := []any{userID}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts by user: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alerts by user: %w", err)
	}
	return alerts, nil
}

// ListByCategory returns alerts in a category with pagination and time filtering.
func (s *AlertStore) ListByCategory(ctx context.Context, category domain.AlertCategory, opts domain.ListOpts) ([]domain.RiskAlert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM alerts WHERE category = $1`
	args := []any{category}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts by category: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlertRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alerts by category: %w", err)
	}
	return alerts, nil
}

// ListResolvedBefore returns resolved alerts older than the cutoff, oldest
// first, for archival.
func (s *AlertStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.RiskAlert, error) {
	query := `SELECT ` + alertSelectCols + `
		FROM alerts
		WHERE status = $1 AND resolved_at < $2
		ORDER BY resolved_at ASC`
	rows, err := s.pool.Query(ctx, query, domain.StatusResolved, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved alerts before: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

// DeleteResolvedBefore deletes resolved alerts older than the cutoff.
// Returns the number deleted.
func (s *AlertStore) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alerts WHERE status = $1 AND resolved_at < $2`,
		domain.StatusResolved, before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete resolved alerts before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// applyListOpts appends time filters, ordering, and pagination shared by the
// alert list queries. Results order newest first.
func applyListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// Compile-time interface check.
var _ domain.AlertStore = (*AlertStore)(nil)
