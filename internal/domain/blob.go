package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from storage.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// ArchiveReport describes one export to cold storage. Path is empty when
// there was nothing to export.
type ArchiveReport struct {
	Kind   string    `json:"kind"`
	Path   string    `json:"path"`
	Count  int64     `json:"count"`
	Before time.Time `json:"before"`
}

// Archiver exports old rows from the database to cold storage.
type Archiver interface {
	ArchiveResults(ctx context.Context, before time.Time) (ArchiveReport, error)
	ArchiveSamples(ctx context.Context, before time.Time) (ArchiveReport, error)
}
