package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// SampleStore implements domain.SampleStore, the training-sample log.
type SampleStore struct {
	pool *pgxpool.Pool
}

// NewSampleStore creates a SampleStore backed by pool.
func NewSampleStore(pool *pgxpool.Pool) *SampleStore {
	return &SampleStore{pool: pool}
}

const sampleCols = `result_id, ts, usd_amount, best_ask, avg_price, slippage, spread, depth, is_taker`

// InsertBatch appends samples. A sample for an already logged result is
// skipped.
func (s *SampleStore) InsertBatch(ctx context.Context, samples []domain.TrainingSample) error {
	if len(samples) == 0 {
		return nil
	}

	const query = `
		INSERT INTO training_samples (` + sampleCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (result_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, smp := range samples {
		batch.Queue(query,
			smp.ResultID, smp.Timestamp, smp.USDAmount, smp.BestAsk, smp.AvgPrice,
			smp.Slippage, smp.Spread, smp.Depth, smp.IsTaker,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range samples {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert sample batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListBefore returns samples older than before, oldest first.
func (s *SampleStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TrainingSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sampleCols+` FROM training_samples WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list samples before: %w", err)
	}
	defer rows.Close()

	var out []domain.TrainingSample
	for rows.Next() {
		var smp domain.TrainingSample
		if err := rows.Scan(
			&smp.ResultID, &smp.Timestamp, &smp.USDAmount, &smp.BestAsk, &smp.AvgPrice,
			&smp.Slippage, &smp.Spread, &smp.Depth, &smp.IsTaker,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		out = append(out, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list samples rows: %w", err)
	}
	return out, nil
}

// DeleteBefore removes samples older than before and returns the count.
func (s *SampleStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM training_samples WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete samples before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SampleStore = (*SampleStore)(nil)
