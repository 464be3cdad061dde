package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one object in the archive bucket.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads archive exports. PutMultipart is for exports too large
// for a single request.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archived exports back.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes archived objects.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver moves settled custody transactions and resolved markets older
// than the cutoff out of Postgres into cold storage, returning the number of
// rows exported.
type Archiver interface {
	ArchiveTransactions(ctx context.Context, before time.Time) (int64, error)
	ArchiveMarkets(ctx context.Context, before time.Time) (int64, error)
}
