package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/costmodel"
	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/predict"
)

type fakeSink struct {
	mu       sync.Mutex
	results  []domain.SimulationResult
	books    []domain.OrderbookSnapshot
	failures []domain.TickFailure
	err      error
}

func (s *fakeSink) PublishResult(_ context.Context, res domain.SimulationResult, book domain.OrderbookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	s.books = append(s.books, book)
	return s.err
}

func (s *fakeSink) PublishFailure(_ context.Context, f domain.TickFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return s.err
}

func (s *fakeSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results), len(s.failures)
}

type fakeRecorder struct {
	mu       sync.Mutex
	ticks    int
	failures map[string]int
	dropped  int
}

func (r *fakeRecorder) ObserveTick(string, time.Duration) {
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
}

func (r *fakeRecorder) TickFailed(_, reason string) {
	r.mu.Lock()
	if r.failures == nil {
		r.failures = map[string]int{}
	}
	r.failures[reason]++
	r.mu.Unlock()
}

func (r *fakeRecorder) SnapshotDropped(string) {
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
}

func (r *fakeRecorder) SetBookDepth(string, int, int) {}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lvls(pairs ...string) []domain.RawLevel {
	out := make([]domain.RawLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.RawLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func snapshot(seq uint64, asks, bids []domain.RawLevel) domain.RawSnapshot {
	return domain.RawSnapshot{
		Instrument: "BTC-USDT-SWAP",
		Asks:       asks,
		Bids:       bids,
		Timestamp:  time.Date(2024, 5, 1, 12, 0, int(seq), 0, time.UTC),
		Sequence:   seq,
	}
}

func newTestEngine(t *testing.T, usd string, allowPartial bool, opts ...Option) (*Engine, *fakeSink, *fakeRecorder) {
	t.Helper()
	model, err := costmodel.New(costmodel.DefaultParams())
	require.NoError(t, err)

	sink := &fakeSink{}
	rec := &fakeRecorder{}
	opts = append([]Option{WithSink(sink), WithRecorder(rec)}, opts...)
	e := New(Config{
		Instrument:   "BTC-USDT-SWAP",
		USDAmount:    d(usd),
		DepthLevels:  5,
		AllowPartial: allowPartial,
	}, model, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	return e, sink, rec
}

func TestProcessPublishesResult(t *testing.T) {
	e, sink, rec := newTestEngine(t, "500", false)

	res, err := e.Process(context.Background(), snapshot(1, lvls("100", "10"), lvls("99", "3")))
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, uint64(1), res.Sequence)
	assert.True(t, res.FullyFilled)
	assert.True(t, res.AveragePrice.Equal(d("100")))
	assert.True(t, res.FilledQuantity.Equal(d("5")))
	assert.True(t, res.Slippage.IsZero())
	assert.True(t, res.Fee.Equal(d("0.5")))
	assert.True(t, res.BestAsk.Equal(d("100")))
	require.True(t, res.BestBid.Valid)
	assert.True(t, res.Features.Spread.Decimal.Equal(d("1")))
	assert.GreaterOrEqual(t, res.LatencyMicros, int64(0))

	require.Len(t, sink.results, 1)
	assert.Equal(t, res.ID, sink.results[0].ID)
	assert.Len(t, sink.books[0].Asks, 1)
	assert.Equal(t, 1, rec.ticks)

	latest, fail := e.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, res.ID, latest.ID)
	assert.Nil(t, fail)
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name       string
		asks, bids []domain.RawLevel
		usd        string
		wantErr    error
		wantReason string
	}{
		{"malformed level", lvls("abc", "1"), nil, "100", domain.ErrMalformedLevel, domain.ReasonMalformedLevel},
		{"empty book", nil, lvls("99", "1"), "100", domain.ErrEmptyBook, domain.ReasonEmptyBook},
		{"insufficient liquidity", lvls("100", "1"), nil, "1000", domain.ErrInsufficientLiquidity, domain.ReasonInsufficientLiquidity},
		{"no fill", lvls("100", "1"), nil, "0", domain.ErrNoFill, domain.ReasonNoFill},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, sink, rec := newTestEngine(t, tt.usd, false)

			_, err := e.Process(context.Background(), snapshot(1, tt.asks, tt.bids))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			results, failures := sink.counts()
			assert.Equal(t, 0, results)
			require.Equal(t, 1, failures)
			assert.Equal(t, tt.wantReason, sink.failures[0].Reason)
			assert.Equal(t, uint64(1), sink.failures[0].Sequence)
			assert.Equal(t, 1, rec.failures[tt.wantReason])
			assert.Equal(t, uint64(1), e.Status().Failures)
		})
	}
}

func TestProcessMalformedKeepsPreviousBook(t *testing.T) {
	e, sink, _ := newTestEngine(t, "100", false)
	ctx := context.Background()

	_, err := e.Process(ctx, snapshot(1, lvls("100", "5"), lvls("99", "5")))
	require.NoError(t, err)

	_, err = e.Process(ctx, snapshot(2, lvls("100", "5", "bad", "1"), nil))
	require.ErrorIs(t, err, domain.ErrMalformedLevel)

	state, err := e.Book()
	require.NoError(t, err)
	require.NotNil(t, state.Top.BestBid)
	assert.True(t, state.Top.BestBid.Price.Equal(d("99")))

	results, failures := sink.counts()
	assert.Equal(t, 1, results)
	assert.Equal(t, 1, failures)
}

func TestProcessAllowPartial(t *testing.T) {
	e, sink, _ := newTestEngine(t, "1000", true)

	res, err := e.Process(context.Background(), snapshot(1, lvls("100", "1"), nil))
	require.NoError(t, err)
	assert.False(t, res.FullyFilled)
	assert.True(t, res.FilledQuantity.Equal(d("1")))
	assert.True(t, res.TotalNotionalSpent.Equal(d("100")))

	results, failures := sink.counts()
	assert.Equal(t, 1, results)
	assert.Equal(t, 0, failures)
}

func TestProcessDropsStaleSnapshot(t *testing.T) {
	e, sink, rec := newTestEngine(t, "100", false)
	ctx := context.Background()

	_, err := e.Process(ctx, snapshot(5, lvls("100", "5"), nil))
	require.NoError(t, err)

	_, err = e.Process(ctx, snapshot(4, lvls("200", "5"), nil))
	require.ErrorIs(t, err, ErrStaleSnapshot)
	assert.False(t, domain.IsTickError(err))

	state, err := e.Book()
	require.NoError(t, err)
	assert.True(t, state.Top.BestAsk.Price.Equal(d("100")))
	assert.Equal(t, uint64(5), state.Sequence)

	results, failures := sink.counts()
	assert.Equal(t, 1, results)
	assert.Equal(t, 0, failures)
	assert.Equal(t, 1, rec.dropped)
	assert.Equal(t, uint64(1), e.Status().Stale)
}

func TestSinkErrorDoesNotFailTick(t *testing.T) {
	e, sink, _ := newTestEngine(t, "100", false)
	sink.err = errors.New("redis down")

	_, err := e.Process(context.Background(), snapshot(1, lvls("100", "5"), nil))
	assert.NoError(t, err)
}

func TestResetClearsBook(t *testing.T) {
	e, _, _ := newTestEngine(t, "100", false)
	ctx := context.Background()

	_, err := e.Process(ctx, snapshot(3, lvls("100", "5"), nil))
	require.NoError(t, err)

	e.Reset(3)
	_, err = e.Book()
	assert.ErrorIs(t, err, domain.ErrNotReady)
	_, err = e.Simulate(d("10"))
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = e.Process(ctx, snapshot(4, lvls("100", "5"), nil))
	assert.NoError(t, err)
}

func TestResetRejectsSnapshotsFromPreviousConnection(t *testing.T) {
	e, sink, _ := newTestEngine(t, "100", false)
	ctx := context.Background()

	_, err := e.Process(ctx, snapshot(3, lvls("100", "5"), nil))
	require.NoError(t, err)

	mb := NewMailbox(nil)
	mb.Put(snapshot(4, lvls("150", "5"), nil))
	inFlight, err := mb.Take(ctx)
	require.NoError(t, err)
	mb.Put(snapshot(5, lvls("150", "5"), nil))

	// Connection lost after sequence 5 was issued.
	assert.True(t, mb.Clear())
	e.Reset(5)

	_, err = e.Process(ctx, inFlight)
	assert.ErrorIs(t, err, ErrStaleSnapshot)
	_, err = e.Book()
	assert.ErrorIs(t, err, domain.ErrNotReady, "book must not be rebuilt from a pre-resync snapshot")

	res, err := e.Process(ctx, snapshot(6, lvls("101", "5"), nil))
	require.NoError(t, err)
	assert.True(t, res.BestAsk.Equal(d("101")))

	results, failures := sink.counts()
	assert.Equal(t, 2, results)
	assert.Equal(t, 0, failures)
}

func TestResetNeverLowersLastSequence(t *testing.T) {
	e, _, _ := newTestEngine(t, "100", false)
	ctx := context.Background()

	_, err := e.Process(ctx, snapshot(7, lvls("100", "5"), nil))
	require.NoError(t, err)

	e.Reset(2)
	assert.Equal(t, uint64(7), e.Status().LastSequence)
	_, err = e.Process(ctx, snapshot(6, lvls("100", "5"), nil))
	assert.ErrorIs(t, err, ErrStaleSnapshot)
}

func TestLatestReflectsOnlyMostRecentTick(t *testing.T) {
	e, _, _ := newTestEngine(t, "100", false)
	ctx := context.Background()

	_, err := e.Process(ctx, snapshot(1, lvls("100", "5"), nil))
	require.NoError(t, err)

	_, err = e.Process(ctx, snapshot(2, lvls("100", "0.1"), nil))
	require.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	res, fail := e.Latest()
	assert.Nil(t, res)
	require.NotNil(t, fail)
	assert.Equal(t, uint64(2), fail.Sequence)

	_, err = e.Process(ctx, snapshot(3, lvls("100", "5"), nil))
	require.NoError(t, err)

	res, fail = e.Latest()
	require.NotNil(t, res)
	assert.Equal(t, uint64(3), res.Sequence)
	assert.Nil(t, fail)
}

func TestSimulateWhatIf(t *testing.T) {
	e, sink, _ := newTestEngine(t, "100", false)
	ctx := context.Background()

	_, err := e.Process(ctx, snapshot(1, lvls("100", "1", "101", "2"), lvls("99", "1")))
	require.NoError(t, err)

	res, err := e.Simulate(d("150"))
	require.NoError(t, err)
	assert.Equal(t, "100.33", res.AveragePrice.StringFixed(2))
	assert.True(t, res.Slippage.IsPositive())
	assert.Equal(t, uint64(1), res.Sequence)

	_, err = e.Simulate(d("10000"))
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	results, failures := sink.counts()
	assert.Equal(t, 1, results)
	assert.Equal(t, 0, failures)
}

func TestProcessWithPredictors(t *testing.T) {
	set := predict.Set{
		Slippage:   &predict.LinearSlippage{Intercept: 0.25},
		MakerTaker: &predict.LogisticMakerTaker{},
	}
	e, _, _ := newTestEngine(t, "100", false, WithPredictors(set))

	res, err := e.Process(context.Background(), snapshot(1, lvls("100", "5"), lvls("99", "5")))
	require.NoError(t, err)
	require.NotNil(t, res.Predictions.Slippage)
	assert.InDelta(t, 0.25, *res.Predictions.Slippage, 1e-12)
	require.NotNil(t, res.Predictions.TakerProbability)
	assert.InDelta(t, 0.5, *res.Predictions.TakerProbability, 1e-12)
}

func TestRunProcessesMailbox(t *testing.T) {
	e, sink, _ := newTestEngine(t, "100", false)
	mb := NewMailbox(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, mb) }()

	mb.Put(snapshot(1, lvls("100", "5"), nil))
	assert.Eventually(t, func() bool {
		results, _ := sink.counts()
		return results == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
