// Package engine runs the per-tick pipeline for one instrument: apply the
// snapshot to the book, simulate the market buy, compose costs, and hand the
// result to the sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/costmodel"
	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/features"
	"github.com/alanyoungcy/costsim/internal/orderbook"
	"github.com/alanyoungcy/costsim/internal/predict"
	"github.com/alanyoungcy/costsim/internal/simulator"
)

// ErrStaleSnapshot is returned by Process for a snapshot whose sequence is
// not newer than the last one processed. Stale snapshots are dropped, not
// reported as tick failures.
var ErrStaleSnapshot = errors.New("engine: stale snapshot")

// Sink receives the outcome of every tick. Errors are logged and never fail
// the tick.
type Sink interface {
	PublishResult(ctx context.Context, res domain.SimulationResult, book domain.OrderbookSnapshot) error
	PublishFailure(ctx context.Context, f domain.TickFailure) error
}

// Recorder collects tick metrics.
type Recorder interface {
	ObserveTick(instrument string, latency time.Duration)
	TickFailed(instrument, reason string)
	SnapshotDropped(instrument string)
	SetBookDepth(instrument string, asks, bids int)
}

// Config is the per-engine simulation setup.
type Config struct {
	Instrument   string
	USDAmount    decimal.Decimal
	DepthLevels  int
	AllowPartial bool
}

// Status is a point-in-time summary for the status endpoint.
type Status struct {
	Instrument   string    `json:"instrument"`
	Ready        bool      `json:"ready"`
	LastSequence uint64    `json:"last_sequence"`
	Ticks        uint64    `json:"ticks"`
	Failures     uint64    `json:"failures"`
	Stale        uint64    `json:"stale"`
	LastTickAt   time.Time `json:"last_tick_at"`
}

// BookState is the current top of book with its features.
type BookState struct {
	Instrument string                   `json:"instrument"`
	Sequence   uint64                   `json:"sequence"`
	Top        domain.TopOfBook         `json:"top"`
	Features   domain.Features          `json:"features"`
	Snapshot   domain.OrderbookSnapshot `json:"snapshot"`
}

// Engine owns the book of one instrument and serialises access to it.
type Engine struct {
	cfg      Config
	model    *costmodel.Model
	predict  predict.Set
	sink     Sink
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	book        *orderbook.Book
	ready       bool
	lastSeq     uint64
	lastTS      time.Time
	ticks       uint64
	failures    uint64
	stale       uint64
	lastTickAt  time.Time
	lastResult  *domain.SimulationResult
	lastFailure *domain.TickFailure
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets the result sink.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithPredictors enables the predictive models.
func WithPredictors(p predict.Set) Option {
	return func(e *Engine) { e.predict = p }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine with an empty book.
func New(cfg Config, model *costmodel.Model, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = features.DefaultDepthLevels
	}
	e := &Engine{
		cfg:      cfg,
		model:    model,
		sink:     nopSink{},
		recorder: nopRecorder{},
		logger:   logger.With(slog.String("component", "engine"), slog.String("instrument", cfg.Instrument)),
		now:      time.Now,
		book:     orderbook.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Instrument returns the instrument this engine simulates.
func (e *Engine) Instrument() string {
	return e.cfg.Instrument
}

// Run takes snapshots from mb until ctx is done, processing them one at a
// time. Tick failures are reported and the loop continues.
func (e *Engine) Run(ctx context.Context, mb *Mailbox) error {
	e.logger.InfoContext(ctx, "engine started",
		slog.String("usd_amount", e.cfg.USDAmount.String()),
		slog.Bool("allow_partial", e.cfg.AllowPartial),
	)
	for {
		snap, err := mb.Take(ctx)
		if err != nil {
			return err
		}
		_, _ = e.Process(ctx, snap)
	}
}

// Process runs one tick. On success the result has been published to the
// sink. On failure the error wraps a taxonomy sentinel (or ErrStaleSnapshot)
// and, unless stale, a TickFailure has been published.
func (e *Engine) Process(ctx context.Context, snap domain.RawSnapshot) (domain.SimulationResult, error) {
	start := e.now()

	e.mu.Lock()
	if e.lastSeq != 0 && snap.Sequence <= e.lastSeq {
		e.stale++
		lastSeq := e.lastSeq
		e.mu.Unlock()
		e.recorder.SnapshotDropped(e.cfg.Instrument)
		e.logger.DebugContext(ctx, "stale snapshot dropped",
			slog.Uint64("sequence", snap.Sequence),
			slog.Uint64("last_sequence", lastSeq),
		)
		return domain.SimulationResult{}, fmt.Errorf("%w: sequence %d", ErrStaleSnapshot, snap.Sequence)
	}
	e.lastSeq = snap.Sequence

	if err := e.book.Update(snap.Asks, snap.Bids); err != nil {
		e.mu.Unlock()
		return domain.SimulationResult{}, e.fail(ctx, snap, err)
	}
	e.ready = true
	e.lastTS = snap.Timestamp
	top := e.book.TopOfBook()
	asks := e.book.Asks()
	feats := features.Extract(e.book, e.cfg.DepthLevels)
	bookSnap := e.book.Snapshot(e.cfg.Instrument, snap.Timestamp)
	askDepth, bidDepth := e.book.Depth()
	e.mu.Unlock()

	e.recorder.SetBookDepth(e.cfg.Instrument, askDepth, bidDepth)

	res, err := e.evaluate(asks, top, feats, e.cfg.USDAmount, e.cfg.AllowPartial)
	if err != nil {
		return domain.SimulationResult{}, e.fail(ctx, snap, err)
	}
	res.Sequence = snap.Sequence
	res.Timestamp = snap.Timestamp
	latency := e.now().Sub(start)
	res.LatencyMicros = latency.Microseconds()

	e.recorder.ObserveTick(e.cfg.Instrument, latency)
	e.mu.Lock()
	e.ticks++
	e.lastTickAt = e.now()
	e.lastResult = &res
	e.lastFailure = nil
	e.mu.Unlock()

	if !res.FullyFilled {
		e.logger.WarnContext(ctx, "partial fill",
			slog.Uint64("sequence", snap.Sequence),
			slog.String("filled_quantity", res.FilledQuantity.String()),
		)
	}
	if err := e.sink.PublishResult(ctx, res, bookSnap); err != nil {
		e.logger.WarnContext(ctx, "publish result failed",
			slog.String("id", res.ID),
			slog.String("error", err.Error()),
		)
	}
	return res, nil
}

// Simulate runs a what-if simulation of usdAmount against the current book
// without touching engine state or sinks. Partial fills are always an error
// here.
func (e *Engine) Simulate(usdAmount decimal.Decimal) (domain.SimulationResult, error) {
	start := e.now()

	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return domain.SimulationResult{}, fmt.Errorf("engine: simulate: %w", domain.ErrNotReady)
	}
	top := e.book.TopOfBook()
	asks := e.book.Asks()
	feats := features.Extract(e.book, e.cfg.DepthLevels)
	seq, ts := e.lastSeq, e.lastTS
	e.mu.Unlock()

	res, err := e.evaluate(asks, top, feats, usdAmount, false)
	if err != nil {
		return domain.SimulationResult{}, err
	}
	res.Sequence = seq
	res.Timestamp = ts
	res.LatencyMicros = e.now().Sub(start).Microseconds()
	return res, nil
}

// Reset empties the book. The feed calls it on resync so that ticks never
// run against a book from a previous connection. Snapshots with a sequence
// at or below watermark, the last one issued before the resync, are dropped
// as stale afterwards.
func (e *Engine) Reset(watermark uint64) {
	e.mu.Lock()
	e.book.Reset()
	e.ready = false
	e.lastSeq = max(e.lastSeq, watermark)
	e.mu.Unlock()
	e.recorder.SetBookDepth(e.cfg.Instrument, 0, 0)
	e.logger.Info("book reset", slog.Uint64("watermark", watermark))
}

// Latest returns the outcome of the most recent tick: a result or a failure,
// never both. Both are nil before the first tick.
func (e *Engine) Latest() (*domain.SimulationResult, *domain.TickFailure) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var res *domain.SimulationResult
	if e.lastResult != nil {
		r := *e.lastResult
		res = &r
	}
	var fail *domain.TickFailure
	if e.lastFailure != nil {
		f := *e.lastFailure
		fail = &f
	}
	return res, fail
}

// Book returns the current top of book and features. It fails with
// domain.ErrNotReady before the first snapshot has been applied.
func (e *Engine) Book() (BookState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return BookState{}, fmt.Errorf("engine: book: %w", domain.ErrNotReady)
	}
	return BookState{
		Instrument: e.cfg.Instrument,
		Sequence:   e.lastSeq,
		Top:        e.book.TopOfBook(),
		Features:   features.Extract(e.book, e.cfg.DepthLevels),
		Snapshot:   e.book.Snapshot(e.cfg.Instrument, e.lastTS),
	}, nil
}

// Status summarises engine counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Instrument:   e.cfg.Instrument,
		Ready:        e.ready,
		LastSequence: e.lastSeq,
		Ticks:        e.ticks,
		Failures:     e.failures,
		Stale:        e.stale,
		LastTickAt:   e.lastTickAt,
	}
}

func (e *Engine) evaluate(asks []domain.PriceLevel, top domain.TopOfBook, feats domain.Features, usdAmount decimal.Decimal, allowPartial bool) (domain.SimulationResult, error) {
	fill, err := simulator.SimulateMarketBuy(asks, usdAmount)
	if err != nil && !(allowPartial && errors.Is(err, domain.ErrInsufficientLiquidity)) {
		return domain.SimulationResult{}, err
	}

	cost, err := e.model.Compose(fill, top, usdAmount)
	if err != nil {
		return domain.SimulationResult{}, err
	}

	res := domain.SimulationResult{
		ID:            uuid.NewString(),
		Instrument:    e.cfg.Instrument,
		USDAmount:     usdAmount,
		BestAsk:       top.BestAsk.Price,
		FillResult:    fill,
		CostBreakdown: cost,
		Features:      feats,
	}
	if top.BestBid != nil {
		res.BestBid = decimal.NewNullDecimal(top.BestBid.Price)
	}
	if e.predict.Enabled() {
		res.Predictions = e.predict.Predict(usdAmount, res.BestAsk, feats)
	}
	return res, nil
}

func (e *Engine) fail(ctx context.Context, snap domain.RawSnapshot, err error) error {
	reason := domain.Reason(err)
	f := domain.TickFailure{
		Instrument: e.cfg.Instrument,
		Sequence:   snap.Sequence,
		Timestamp:  snap.Timestamp,
		Reason:     reason,
		Detail:     err.Error(),
	}

	e.mu.Lock()
	e.failures++
	e.lastFailure = &f
	e.lastResult = nil
	e.mu.Unlock()

	e.recorder.TickFailed(e.cfg.Instrument, reason)
	e.logger.WarnContext(ctx, "tick failed",
		slog.Uint64("sequence", snap.Sequence),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	if perr := e.sink.PublishFailure(ctx, f); perr != nil {
		e.logger.WarnContext(ctx, "publish failure failed",
			slog.Uint64("sequence", snap.Sequence),
			slog.String("error", perr.Error()),
		)
	}
	return err
}

type nopSink struct{}

func (nopSink) PublishResult(context.Context, domain.SimulationResult, domain.OrderbookSnapshot) error {
	return nil
}

func (nopSink) PublishFailure(context.Context, domain.TickFailure) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveTick(string, time.Duration) {}
func (nopRecorder) TickFailed(string, string)         {}
func (nopRecorder) SnapshotDropped(string)            {}
func (nopRecorder) SetBookDepth(string, int, int)     {}
