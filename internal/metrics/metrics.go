// Package metrics exposes simulator, feed and archive counters to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	tickLatency    *prometheus.HistogramVec
	ticksTotal     *prometheus.CounterVec
	tickFailures   *prometheus.CounterVec
	droppedTotal   *prometheus.CounterVec
	bookDepth      *prometheus.GaugeVec
	feedReconnects *prometheus.CounterVec
	archiveRows    *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec
}

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		tickLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "costsim",
			Name:      "tick_latency_seconds",
			Help:      "Time from snapshot receipt to composed result.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
		}, []string{"instrument"}),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costsim",
			Name:      "ticks_total",
			Help:      "Ticks that produced a simulation result.",
		}, []string{"instrument"}),
		tickFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costsim",
			Name:      "tick_failures_total",
			Help:      "Ticks that produced no result, by reason.",
		}, []string{"instrument", "reason"}),
		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costsim",
			Name:      "snapshots_dropped_total",
			Help:      "Snapshots superseded before processing or arriving out of order.",
		}, []string{"instrument"}),
		bookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "costsim",
			Name:      "book_levels",
			Help:      "Levels on each side of the current book.",
		}, []string{"instrument", "side"}),
		feedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costsim",
			Name:      "feed_reconnects_total",
			Help:      "Feed resyncs before a reconnect.",
		}, []string{"instrument"}),
		archiveRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costsim",
			Name:      "archived_rows_total",
			Help:      "Rows exported to cold storage, by kind.",
		}, []string{"kind"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costsim",
			Name:      "sink_errors_total",
			Help:      "Failed publications, by sink.",
		}, []string{"sink"}),
	}

	m.reg.MustRegister(
		m.tickLatency, m.ticksTotal, m.tickFailures, m.droppedTotal,
		m.bookDepth, m.feedReconnects, m.archiveRows, m.sinkErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(instrument string, latency time.Duration) {
	m.tickLatency.WithLabelValues(instrument).Observe(latency.Seconds())
	m.ticksTotal.WithLabelValues(instrument).Inc()
}

func (m *Metrics) TickFailed(instrument, reason string) {
	m.tickFailures.WithLabelValues(instrument, reason).Inc()
}

func (m *Metrics) SnapshotDropped(instrument string) {
	m.droppedTotal.WithLabelValues(instrument).Inc()
}

func (m *Metrics) SetBookDepth(instrument string, asks, bids int) {
	m.bookDepth.WithLabelValues(instrument, "ask").Set(float64(asks))
	m.bookDepth.WithLabelValues(instrument, "bid").Set(float64(bids))
}

// FeedReconnected counts one resync of instrument's feed.
func (m *Metrics) FeedReconnected(instrument string) {
	m.feedReconnects.WithLabelValues(instrument).Inc()
}

// WatchFeedDecodeErrors exports fn, read at scrape time, as instrument's
// count of undecodable feed messages.
func (m *Metrics) WatchFeedDecodeErrors(instrument string, fn func() uint64) error {
	return m.reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "costsim",
		Name:        "feed_decode_errors_total",
		Help:        "Feed messages that could not be decoded.",
		ConstLabels: prometheus.Labels{"instrument": instrument},
	}, func() float64 { return float64(fn()) }))
}

// Archived adds count exported rows of kind.
func (m *Metrics) Archived(kind string, count int64) {
	m.archiveRows.WithLabelValues(kind).Add(float64(count))
}

// SinkFailed counts one failed publication to sink.
func (m *Metrics) SinkFailed(sink string) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}
