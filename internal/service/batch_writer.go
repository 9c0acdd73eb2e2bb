package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

const (
	defaultBatchSize     = 200
	defaultFlushInterval = time.Second
	finalFlushTimeout    = 10 * time.Second
)

// BatchWriterConfig sizes the Postgres write buffer.
type BatchWriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	// MaxPending caps buffered results while the database is unavailable.
	// The oldest rows are discarded beyond it. Zero means 50 batches.
	MaxPending int
}

// BatchWriter buffers results and their training samples and writes them
// in batches, on a timer or when a batch fills up.
type BatchWriter struct {
	results domain.SimulationStore
	samples domain.SampleStore
	cfg     BatchWriterConfig
	logger  *slog.Logger

	mu        sync.Mutex
	pending   []domain.SimulationResult
	discarded int64
	full      chan struct{}
}

// NewBatchWriter creates a BatchWriter. samples may be nil.
func NewBatchWriter(results domain.SimulationStore, samples domain.SampleStore, cfg BatchWriterConfig, logger *slog.Logger) *BatchWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = cfg.BatchSize * 50
	}
	return &BatchWriter{
		results: results,
		samples: samples,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "batch_writer")),
		full:    make(chan struct{}, 1),
	}
}

// Add queues res. It never blocks.
func (w *BatchWriter) Add(res domain.SimulationResult) {
	w.mu.Lock()
	w.pending = append(w.pending, res)
	if over := len(w.pending) - w.cfg.MaxPending; over > 0 {
		w.pending = append(w.pending[:0:0], w.pending[over:]...)
		w.discarded += int64(over)
	}
	n := len(w.pending)
	w.mu.Unlock()

	if n >= w.cfg.BatchSize {
		select {
		case w.full <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued results.
func (w *BatchWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Discarded returns how many results were dropped because the buffer was
// full.
func (w *BatchWriter) Discarded() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.discarded
}

// Run flushes until ctx is cancelled, then makes a final flush on a fresh
// context.
func (w *BatchWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			defer cancel()
			if err := w.Flush(flushCtx); err != nil {
				w.logger.Error("final flush failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
		case <-w.full:
		}
		if err := w.Flush(ctx); err != nil {
			w.logger.WarnContext(ctx, "flush failed, will retry", slog.String("error", err.Error()))
		}
	}
}

// Flush writes everything queued in batches of BatchSize. Rows from a failed
// batch are put back at the front of the queue.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	for len(batch) > 0 {
		n := min(len(batch), w.cfg.BatchSize)
		if err := w.write(ctx, batch[:n]); err != nil {
			w.requeue(batch)
			return err
		}
		batch = batch[n:]
	}
	return nil
}

func (w *BatchWriter) write(ctx context.Context, batch []domain.SimulationResult) error {
	if err := w.results.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("batch_writer: insert %d results: %w", len(batch), err)
	}
	if w.samples == nil {
		return nil
	}
	samples := make([]domain.TrainingSample, len(batch))
	for i, r := range batch {
		samples[i] = domain.SampleFromResult(r)
	}
	// Results use ON CONFLICT DO NOTHING, so a retried batch whose sample
	// insert failed is safe to replay.
	if err := w.samples.InsertBatch(ctx, samples); err != nil {
		return fmt.Errorf("batch_writer: insert %d samples: %w", len(samples), err)
	}
	return nil
}

func (w *BatchWriter) requeue(batch []domain.SimulationResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(append([]domain.SimulationResult(nil), batch...), w.pending...)
	if over := len(w.pending) - w.cfg.MaxPending; over > 0 {
		w.pending = w.pending[over:]
		w.discarded += int64(over)
	}
}
