package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// SimulationStore implements domain.SimulationStore using PostgreSQL.
// Decimal columns are NUMERIC and round-trip exactly through
// decimal.Decimal's Valuer and Scanner.
type SimulationStore struct {
	pool *pgxpool.Pool
}

// NewSimulationStore creates a SimulationStore backed by pool.
func NewSimulationStore(pool *pgxpool.Pool) *SimulationStore {
	return &SimulationStore{pool: pool}
}

const simulationCols = `id, instrument, sequence, ts, usd_amount, best_ask, best_bid,
	average_price, filled_quantity, total_notional_spent, fully_filled,
	slippage, fee, market_impact, net_cost,
	spread, depth_top_n, depth_levels,
	predicted_slippage, maker_probability, taker_probability, latency_us`

func scanSimulation(row pgx.Row) (domain.SimulationResult, error) {
	var (
		r   domain.SimulationResult
		seq int64
	)
	err := row.Scan(
		&r.ID, &r.Instrument, &seq, &r.Timestamp, &r.USDAmount, &r.BestAsk, &r.BestBid,
		&r.AveragePrice, &r.FilledQuantity, &r.TotalNotionalSpent, &r.FullyFilled,
		&r.Slippage, &r.Fee, &r.MarketImpact, &r.NetCost,
		&r.Features.Spread, &r.Features.DepthTopN, &r.Features.DepthLevels,
		&r.Predictions.Slippage, &r.Predictions.MakerProbability, &r.Predictions.TakerProbability,
		&r.LatencyMicros,
	)
	if err != nil {
		return domain.SimulationResult{}, err
	}
	r.Sequence = uint64(seq)
	return r, nil
}

func scanSimulationRows(rows pgx.Rows) ([]domain.SimulationResult, error) {
	var out []domain.SimulationResult
	for rows.Next() {
		r, err := scanSimulation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertBatch writes results in one round trip. Re-inserting an existing id
// is a no-op.
func (s *SimulationStore) InsertBatch(ctx context.Context, results []domain.SimulationResult) error {
	if len(results) == 0 {
		return nil
	}

	const query = `
		INSERT INTO simulation_results (` + simulationCols + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21, $22
		) ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(query,
			r.ID, r.Instrument, int64(r.Sequence), r.Timestamp, r.USDAmount, r.BestAsk, r.BestBid,
			r.AveragePrice, r.FilledQuantity, r.TotalNotionalSpent, r.FullyFilled,
			r.Slippage, r.Fee, r.MarketImpact, r.NetCost,
			r.Features.Spread, r.Features.DepthTopN, r.Features.DepthLevels,
			r.Predictions.Slippage, r.Predictions.MakerProbability, r.Predictions.TakerProbability,
			r.LatencyMicros,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert simulation batch item %d: %w", i, err)
		}
	}
	return nil
}

// GetByID returns one result or domain.ErrNotFound.
func (s *SimulationStore) GetByID(ctx context.Context, id string) (domain.SimulationResult, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+simulationCols+` FROM simulation_results WHERE id = $1`, id)
	r, err := scanSimulation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SimulationResult{}, domain.ErrNotFound
		}
		return domain.SimulationResult{}, fmt.Errorf("postgres: get simulation %s: %w", id, err)
	}
	return r, nil
}

// ListRecent returns results for instrument, newest first.
func (s *SimulationStore) ListRecent(ctx context.Context, instrument string, opts domain.ListOpts) ([]domain.SimulationResult, error) {
	query, args := newListQuery(
		`SELECT `+simulationCols+` FROM simulation_results WHERE instrument = $1`, instrument,
	).apply("ts", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list simulations: %w", err)
	}
	defer rows.Close()

	out, err := scanSimulationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan simulations: %w", err)
	}
	return out, nil
}

// ListBefore returns every result older than before, oldest first.
func (s *SimulationStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SimulationResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+simulationCols+` FROM simulation_results WHERE ts < $1 ORDER BY ts ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list simulations before: %w", err)
	}
	defer rows.Close()

	out, err := scanSimulationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan simulations before: %w", err)
	}
	return out, nil
}

// DeleteBefore removes results older than before and returns the count.
func (s *SimulationStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM simulation_results WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete simulations before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SimulationStore = (*SimulationStore)(nil)
