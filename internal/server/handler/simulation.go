package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/service"
)

// SimulationService is the query side of the simulator.
type SimulationService interface {
	Latest() (service.Latest, error)
	Book(ctx context.Context, full bool) (service.BookView, error)
	WhatIf(ctx context.Context, usdAmount decimal.Decimal) (domain.SimulationResult, error)
	Recent(ctx context.Context, opts domain.ListOpts) ([]domain.SimulationResult, error)
	Get(ctx context.Context, id string) (domain.SimulationResult, error)
	Stream(ctx context.Context, after string, limit int) (service.StreamPage, error)
}

// SimulationHandler serves live and stored simulation results.
type SimulationHandler struct {
	svc    SimulationService
	logger *slog.Logger
}

// NewSimulationHandler creates a SimulationHandler.
func NewSimulationHandler(svc SimulationService, logger *slog.Logger) *SimulationHandler {
	return &SimulationHandler{svc: svc, logger: logHandler(logger, "simulation")}
}

// Latest returns the most recent result or failure.
// GET /api/simulations/latest
func (h *SimulationHandler) Latest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.svc.Latest()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// List returns stored results, newest first.
// GET /api/simulations?limit=&offset=
func (h *SimulationHandler) List(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.Recent(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if results == nil {
		results = []domain.SimulationResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// Get returns one stored result.
// GET /api/simulations/{id}
func (h *SimulationHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type whatIfRequest struct {
	USDAmount decimal.Decimal `json:"usd_amount"`
}

// WhatIf simulates a caller-supplied notional against the current book.
// Tick failures are reported as 422 with their reason.
// POST /api/simulations
func (h *SimulationHandler) WhatIf(w http.ResponseWriter, r *http.Request) {
	var req whatIfRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.WhatIf(r.Context(), req.USDAmount)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Book returns the current top of book and features. Levels are included
// only with levels=full.
// GET /api/book?levels=
func (h *SimulationHandler) Book(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("levels") == "full"
	view, err := h.svc.Book(r.Context(), full)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !full {
		view.Snapshot = domain.OrderbookSnapshot{}
	}
	writeJSON(w, http.StatusOK, view)
}

// Stream returns results published to the Redis stream after the cursor.
// GET /api/simulations/stream?after=&limit=
func (h *SimulationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	page, err := h.svc.Stream(r.Context(), q.Get("after"), limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
