package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value returns the value of the sample of family name whose labels match.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if !labelsMatch(metric, labels) {
				continue
			}
			switch {
			case metric.Counter != nil:
				return metric.GetCounter().GetValue()
			case metric.Gauge != nil:
				return metric.GetGauge().GetValue()
			case metric.Histogram != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range metric.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestRecorderCounters(t *testing.T) {
	m := New()

	m.ObserveTick("BTC-USDT", 250*time.Microsecond)
	m.ObserveTick("BTC-USDT", time.Millisecond)
	m.TickFailed("BTC-USDT", "EmptyBook")
	m.SnapshotDropped("BTC-USDT")
	m.SnapshotDropped("BTC-USDT")
	m.SetBookDepth("BTC-USDT", 12, 9)
	m.FeedReconnected("BTC-USDT")
	m.Archived("simulation_results", 40)
	m.SinkFailed("redis")

	btc := map[string]string{"instrument": "BTC-USDT"}
	assert.Equal(t, 2.0, value(t, m, "costsim_ticks_total", btc))
	assert.Equal(t, 2.0, value(t, m, "costsim_tick_latency_seconds", btc))
	assert.Equal(t, 1.0, value(t, m, "costsim_tick_failures_total", map[string]string{"instrument": "BTC-USDT", "reason": "EmptyBook"}))
	assert.Equal(t, 2.0, value(t, m, "costsim_snapshots_dropped_total", btc))
	assert.Equal(t, 12.0, value(t, m, "costsim_book_levels", map[string]string{"instrument": "BTC-USDT", "side": "ask"}))
	assert.Equal(t, 9.0, value(t, m, "costsim_book_levels", map[string]string{"instrument": "BTC-USDT", "side": "bid"}))
	assert.Equal(t, 1.0, value(t, m, "costsim_feed_reconnects_total", btc))
	assert.Equal(t, 40.0, value(t, m, "costsim_archived_rows_total", map[string]string{"kind": "simulation_results"}))
	assert.Equal(t, 1.0, value(t, m, "costsim_sink_errors_total", map[string]string{"sink": "redis"}))
}

func TestWatchFeedDecodeErrors(t *testing.T) {
	m := New()
	var n uint64 = 3
	require.NoError(t, m.WatchFeedDecodeErrors("BTC-USDT", func() uint64 { return n }))

	btc := map[string]string{"instrument": "BTC-USDT"}
	assert.Equal(t, 3.0, value(t, m, "costsim_feed_decode_errors_total", btc))
	n = 5
	assert.Equal(t, 5.0, value(t, m, "costsim_feed_decode_errors_total", btc))

	assert.Error(t, m.WatchFeedDecodeErrors("BTC-USDT", func() uint64 { return 0 }))
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.SnapshotDropped("x")
	x := map[string]string{"instrument": "x"}
	assert.Equal(t, 1.0, value(t, a, "costsim_snapshots_dropped_total", x))
	assert.Equal(t, 0.0, value(t, b, "costsim_snapshots_dropped_total", x))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.TickFailed("ETH-USDT", "NoFill")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `costsim_tick_failures_total{instrument="ETH-USDT",reason="NoFill"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
