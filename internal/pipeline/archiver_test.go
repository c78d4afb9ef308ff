package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
)

func TestNextCronTime(t *testing.T) {
	after := time.Date(2025, 6, 15, 2, 30, 0, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	if err != nil {
		t.Fatalf("nextCronTime: %v", err)
	}
	want := time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// Already past today's trigger; next run is tomorrow.
	after = time.Date(2025, 6, 15, 3, 30, 0, 0, time.UTC)
	next, err = nextCronTime("0 3 * * *", after)
	if err != nil {
		t.Fatalf("nextCronTime: %v", err)
	}
	want = time.Date(2025, 6, 16, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextCronTimeRejectsBadExpr(t *testing.T) {
	if _, err := nextCronTime("not a cron", time.Now()); err == nil {
		t.Fatal("expected error for malformed expression")
	}
	if _, err := nextCronTime("0 3 * *", time.Now()); err == nil {
		t.Fatal("expected error for 4-field expression")
	}
}

type fakeBlobArchiver struct {
	calls int
	count int64
}

func (f *fakeBlobArchiver) ArchiveResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	f.calls++
	return f.count, nil
}

type fakeLocks struct {
	held bool
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func TestArchiverRunSkipsWhenLockHeld(t *testing.T) {
	blob := &fakeBlobArchiver{count: 5}
	a := NewArchiver(blob, &fakeLocks{held: true}, 30, slog.New(slog.DiscardHandler))

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if blob.calls != 0 {
		t.Fatalf("archive ran %d times despite held lock", blob.calls)
	}
}

func TestArchiverRunArchives(t *testing.T) {
	blob := &fakeBlobArchiver{count: 5}
	a := NewArchiver(blob, &fakeLocks{}, 30, slog.New(slog.DiscardHandler))

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if blob.calls != 1 {
		t.Fatalf("archive ran %d times, want 1", blob.calls)
	}
}

type failingBlobArchiver struct{}

func (failingBlobArchiver) ArchiveResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	return 0, errors.New("upload failed")
}

func TestArchiverRunPropagatesError(t *testing.T) {
	a := NewArchiver(failingBlobArchiver{}, nil, 30, slog.New(slog.DiscardHandler))
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error from failing archiver")
	}
}
