package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

const (
	KindResults = "simulation_results"
	KindSamples = "training_samples"

	jsonlContentType = "application/x-ndjson"
)

// ResultArchiveStore is the read side of the result store the archiver
// needs.
type ResultArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.SimulationResult, error)
}

// SampleArchiveStore is the read side of the sample store the archiver
// needs.
type SampleArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TrainingSample, error)
}

// ArchiveImpl implements domain.Archiver: it reads rows older than a cutoff,
// writes them as JSONL and records the export in the audit log. It never
// deletes rows; pruning is the caller's decision once the object is
// verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	results ResultArchiveStore
	samples SampleArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. samples may be nil when the training
// log is disabled.
func NewArchiver(writer domain.BlobWriter, results ResultArchiveStore, samples SampleArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		results: results,
		samples: samples,
		audit:   audit,
	}
}

// ArchiveResults exports simulation results older than before.
func (a *ArchiveImpl) ArchiveResults(ctx context.Context, before time.Time) (domain.ArchiveReport, error) {
	rows, err := a.results.ListBefore(ctx, before)
	if err != nil {
		return domain.ArchiveReport{}, fmt.Errorf("s3blob: archive %s query: %w", KindResults, err)
	}
	return archive(ctx, a, KindResults, before, rows)
}

// ArchiveSamples exports training samples older than before.
func (a *ArchiveImpl) ArchiveSamples(ctx context.Context, before time.Time) (domain.ArchiveReport, error) {
	if a.samples == nil {
		return domain.ArchiveReport{Kind: KindSamples, Before: before}, nil
	}
	rows, err := a.samples.ListBefore(ctx, before)
	if err != nil {
		return domain.ArchiveReport{}, fmt.Errorf("s3blob: archive %s query: %w", KindSamples, err)
	}
	return archive(ctx, a, KindSamples, before, rows)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, rows []T) (domain.ArchiveReport, error) {
	report := domain.ArchiveReport{Kind: kind, Before: before}
	if len(rows) == 0 {
		return report, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return report, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := ArchivePath(kind, before)
	if int64(len(buf)) >= minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return report, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	report.Path = path
	report.Count = int64(len(rows))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  report.Count,
			"bytes":  len(buf),
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return report, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return report, nil
}

// ArchivePath builds the object key for an export, partitioned by the
// year-month of the cutoff and named by the cutoff instant so repeated runs
// within a month never overwrite each other.
//
//	archive/simulation_results/2025-01/20250115T030000Z.jsonl
func ArchivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// marshalJSONL encodes records as newline-delimited JSON.
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
