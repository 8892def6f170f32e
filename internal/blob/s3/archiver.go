package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantfold/tradecost/internal/domain"
)

// EstimateArchiveStore is the narrow store surface the archiver needs: the
// time-ranged read plus the matching delete issued only after a verified
// upload.
type EstimateArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.CostEstimate, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by querying old estimates,
// serializing them to JSONL, uploading the result, and then deleting the
// archived rows from the primary store. The delete runs only after the
// upload succeeded, so a failed upload leaves the rows in place for the next
// pass.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	estimates EstimateArchiveStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, estimates EstimateArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		estimates: estimates,
	}
}

// ArchiveEstimates uploads all estimates older than the cutoff to
// archive/estimates/YYYY-MM.jsonl, removes them from the primary store, and
// returns how many records were archived.
func (a *ArchiveImpl) ArchiveEstimates(ctx context.Context, before time.Time) (int64, error) {
	estimates, err := a.estimates.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive estimates query: %w", err)
	}
	if len(estimates) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(estimates)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive estimates marshal: %w", err)
	}

	path := archivePath("estimates", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive estimates upload: %w", err)
	}

	deleted, err := a.estimates.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(estimates)), fmt.Errorf("s3blob: archive estimates delete: %w", err)
	}
	return deleted, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/estimates/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
