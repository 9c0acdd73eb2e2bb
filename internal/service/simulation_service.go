package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/engine"
	"github.com/alanyoungcy/costsim/internal/features"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Simulator is the subset of engine.Engine the query side needs.
type Simulator interface {
	Instrument() string
	Simulate(usdAmount decimal.Decimal) (domain.SimulationResult, error)
	Latest() (*domain.SimulationResult, *domain.TickFailure)
	Book() (engine.BookState, error)
	Status() engine.Status
}

// Latest is the most recent tick outcome. Exactly one field is set once a
// tick has been processed.
type Latest struct {
	Result  *domain.SimulationResult `json:"result,omitempty"`
	Failure *domain.TickFailure      `json:"failure,omitempty"`
}

// Book sources.
const (
	BookSourceEngine = "engine"
	BookSourceCache  = "cache"
)

// BookView is a book state and where it came from. A cached view is the last
// book published by any simulator for the instrument.
type BookView struct {
	engine.BookState
	Source string `json:"source"`
}

// StreamEntry is one result read from the Redis result stream.
type StreamEntry struct {
	ID     string                  `json:"id"`
	Result domain.SimulationResult `json:"result"`
}

// StreamPage is a batch of stream entries. Next is the cursor for the
// following call.
type StreamPage struct {
	Entries []StreamEntry `json:"entries"`
	Next    string        `json:"next"`
}

// SimulationService answers queries about live and stored simulations.
type SimulationService struct {
	sim    Simulator
	store  domain.SimulationStore
	audit  domain.AuditStore
	books  domain.OrderbookCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// QueryOption configures a SimulationService.
type QueryOption func(*SimulationService)

// WithCachedBooks serves the Redis book cache while the engine has no book.
func WithCachedBooks(c domain.OrderbookCache) QueryOption {
	return func(s *SimulationService) { s.books = c }
}

// WithResultStream enables reads of the Redis result stream.
func WithResultStream(bus domain.SignalBus) QueryOption {
	return func(s *SimulationService) { s.bus = bus }
}

// NewSimulationService creates a SimulationService. store and audit may be
// nil when Postgres is not configured.
func NewSimulationService(sim Simulator, store domain.SimulationStore, audit domain.AuditStore, logger *slog.Logger, opts ...QueryOption) *SimulationService {
	s := &SimulationService{
		sim:    sim,
		store:  store,
		audit:  audit,
		logger: logger.With(slog.String("component", "simulation_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Instrument returns the simulated instrument.
func (s *SimulationService) Instrument() string { return s.sim.Instrument() }

// Status returns the engine's counters.
func (s *SimulationService) Status() engine.Status { return s.sim.Status() }

// Latest returns the latest tick outcome, or domain.ErrNotReady before the
// first tick.
func (s *SimulationService) Latest() (Latest, error) {
	res, fail := s.sim.Latest()
	if res == nil && fail == nil {
		return Latest{}, domain.ErrNotReady
	}
	return Latest{Result: res, Failure: fail}, nil
}

// Book returns the engine's book. Before the engine has a book it falls back
// to the cache: the top of book only, or every level when full is set.
func (s *SimulationService) Book(ctx context.Context, full bool) (BookView, error) {
	state, err := s.sim.Book()
	if err == nil {
		return BookView{BookState: state, Source: BookSourceEngine}, nil
	}
	if s.books == nil || !errors.Is(err, domain.ErrNotReady) {
		return BookView{}, err
	}

	inst := s.sim.Instrument()
	view := BookView{
		BookState: engine.BookState{Instrument: inst},
		Source:    BookSourceCache,
	}
	var cerr error
	if full {
		var snap domain.OrderbookSnapshot
		snap, cerr = s.books.GetSnapshot(ctx, inst)
		view.Snapshot = snap
		view.Top = topOf(snap)
		view.Features = domain.Features{
			Spread:      features.Spread(view.Top),
			DepthTopN:   features.DepthTopN(snap.Asks, features.DefaultDepthLevels),
			DepthLevels: features.DefaultDepthLevels,
		}
	} else {
		view.Top, cerr = s.books.GetTopOfBook(ctx, inst)
		view.Features.Spread = features.Spread(view.Top)
	}
	if cerr != nil {
		if !errors.Is(cerr, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "book cache read failed", slog.String("error", cerr.Error()))
		}
		return BookView{}, err
	}
	return view, nil
}

func topOf(snap domain.OrderbookSnapshot) domain.TopOfBook {
	var top domain.TopOfBook
	if len(snap.Asks) > 0 {
		lvl := snap.Asks[0]
		top.BestAsk = &lvl
	}
	if len(snap.Bids) > 0 {
		lvl := snap.Bids[0]
		top.BestBid = &lvl
	}
	return top
}

// WhatIf simulates usdAmount against the current book. The call is audited
// when an audit store is configured.
func (s *SimulationService) WhatIf(ctx context.Context, usdAmount decimal.Decimal) (domain.SimulationResult, error) {
	res, err := s.sim.Simulate(usdAmount)
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("simulation_service: what-if %s: %w", usdAmount, err)
	}
	if s.audit != nil {
		detail := map[string]any{
			"instrument": res.Instrument,
			"usd_amount": usdAmount.String(),
			"net_cost":   res.NetCost.String(),
		}
		if aerr := s.audit.Log(ctx, "simulation.what_if", detail); aerr != nil {
			s.logger.WarnContext(ctx, "audit what-if failed", slog.String("error", aerr.Error()))
		}
	}
	return res, nil
}

// Recent lists stored results, newest first. The limit is clamped to
// [1, 500] with a default of 50.
func (s *SimulationService) Recent(ctx context.Context, opts domain.ListOpts) ([]domain.SimulationResult, error) {
	if s.store == nil {
		return nil, fmt.Errorf("simulation_service: recent: %w", ErrStoreDisabled)
	}
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	results, err := s.store.ListRecent(ctx, s.sim.Instrument(), opts)
	if err != nil {
		return nil, fmt.Errorf("simulation_service: recent: %w", err)
	}
	return results, nil
}

// Get returns one stored result by ID.
func (s *SimulationService) Get(ctx context.Context, id string) (domain.SimulationResult, error) {
	if s.store == nil {
		return domain.SimulationResult{}, fmt.Errorf("simulation_service: get: %w", ErrStoreDisabled)
	}
	res, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("simulation_service: get %s: %w", id, err)
	}
	return res, nil
}

// Stream reads results published after the cursor after ("0" or empty for
// the oldest retained entry). The limit is clamped like Recent. Entries that
// fail to decode are skipped but still advance the cursor.
func (s *SimulationService) Stream(ctx context.Context, after string, limit int) (StreamPage, error) {
	if s.bus == nil {
		return StreamPage{}, fmt.Errorf("simulation_service: stream: %w", ErrStreamDisabled)
	}
	if after == "" {
		after = "0"
	}
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	msgs, err := s.bus.StreamRead(ctx, ResultStream(s.sim.Instrument()), after, limit)
	if err != nil {
		return StreamPage{}, fmt.Errorf("simulation_service: stream: %w", err)
	}

	page := StreamPage{Entries: make([]StreamEntry, 0, len(msgs)), Next: after}
	for _, m := range msgs {
		page.Next = m.ID
		var res domain.SimulationResult
		if err := json.Unmarshal(m.Payload, &res); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable stream entry",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		page.Entries = append(page.Entries, StreamEntry{ID: m.ID, Result: res})
	}
	return page, nil
}
