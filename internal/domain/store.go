package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SimulationStore persists simulation results.
type SimulationStore interface {
	InsertBatch(ctx context.Context, results []SimulationResult) error
	GetByID(ctx context.Context, id string) (SimulationResult, error)
	ListRecent(ctx context.Context, instrument string, opts ListOpts) ([]SimulationResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]SimulationResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SampleStore persists the training-sample log consumed by offline model
// fitting.
type SampleStore interface {
	InsertBatch(ctx context.Context, samples []TrainingSample) error
	ListBefore(ctx context.Context, before time.Time) ([]TrainingSample, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
