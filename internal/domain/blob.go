package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver ages old estimate history out of the primary store into blob
// storage.
type Archiver interface {
	// ArchiveEstimates uploads all estimates older than the cutoff as JSONL
	// and returns how many records were archived.
	ArchiveEstimates(ctx context.Context, before time.Time) (int64, error)
}
