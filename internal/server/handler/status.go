package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/costsim/internal/engine"
)

// StatusSource reports engine counters.
type StatusSource interface {
	Status() engine.Status
}

// FeedState reports the market-data feed's connection and decode health.
type FeedState interface {
	Connected() bool
	DecodeErrors() uint64
}

// StatusHandler serves the backend status for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	source    StatusSource
	feed      FeedState
}

// NewStatusHandler creates a StatusHandler. feed may be nil.
func NewStatusHandler(mode string, startedAt time.Time, source StatusSource, feed FeedState) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, source: source, feed: feed}
}

// GetStatus responds with the mode, uptime, feed state and engine counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"engine":         h.source.Status(),
	}
	if h.feed != nil {
		body["feed_connected"] = h.feed.Connected()
		body["feed_decode_errors"] = h.feed.DecodeErrors()
	}
	writeJSON(w, http.StatusOK, body)
}
