package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves and enumerates stored objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes stored objects.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver moves aged alert history out of the primary store into cold
// storage.
type Archiver interface {
	ArchiveResolvedAlerts(ctx context.Context, before time.Time) (int64, error)
}
