package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
)

// AlertArchiveStore is the slice of the alert store the archiver needs.
type AlertArchiveStore interface {
	// ListResolvedBefore returns resolved alerts whose resolution time is
	// strictly before the cutoff.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.RiskAlert, error)
	// DeleteResolvedBefore removes resolved alerts older than the cutoff and
	// returns the number deleted.
	DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by querying the alert store for
// resolved alerts past retention, serializing them to JSONL, uploading the
// result to S3, and then deleting the archived rows. The upload happens
// before the delete so a failed upload never loses history.
type ArchiveImpl struct {
	writer domain.BlobWriter
	alerts AlertArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, alerts AlertArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		alerts: alerts,
		audit:  audit,
	}
}

// ArchiveResolvedAlerts uploads all resolved alerts older than the cutoff to
// S3 at archive/alerts/YYYY-MM.jsonl and deletes them from the primary
// store. The archival event is recorded in the audit log and the count of
// archived records is returned.
func (a *ArchiveImpl) ArchiveResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	alerts, err := a.alerts.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts query: %w", err)
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(alerts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts marshal: %w", err)
	}

	path := archivePath("alerts", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts upload: %w", err)
	}

	deleted, err := a.alerts.DeleteResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts delete: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.alerts", map[string]any{
		"path":    path,
		"count":   len(alerts),
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return int64(len(alerts)), fmt.Errorf("s3blob: archive alerts audit log: %w", err)
	}

	return int64(len(alerts)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/alerts/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
