// Package metrics exposes the pipeline's Prometheus instrumentation.
//
// Grounded on internal/interfaces/http/metrics.go's MetricsRegistry shape,
// trimmed from the momentum-scanner's pipeline-step/regime metrics down to
// the counters and histograms this pipeline's components actually emit, and
// switched from the teacher's global prometheus.MustRegister onto the
// package's own registry so constructing more than one Registry (as the
// test suite does) doesn't panic on duplicate registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the pipeline emits.
type Registry struct {
	registry *prometheus.Registry

	WSReconnects      *prometheus.CounterVec
	WSLatency         *prometheus.HistogramVec
	OrderbookUpdates  *prometheus.CounterVec
	CandleFolds       *prometheus.CounterVec
	AggThrottleDrops  *prometheus.CounterVec
	PublishBusDepth   *prometheus.GaugeVec
	ColdStoreFailures *prometheus.CounterVec
	PipelineErrors    *prometheus.CounterVec
}

// New builds a Registry backed by a fresh prometheus.Registry, safe to call
// more than once (e.g. once per test).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		WSReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_ws_reconnects_total",
				Help: "Total venue WebSocket reconnect attempts by venue and outcome",
			},
			[]string{"venue", "outcome"},
		),
		WSLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketdata_ws_latency_ms",
				Help:    "Venue WebSocket round-trip latency in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
			},
			[]string{"venue"},
		),
		OrderbookUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_orderbook_updates_total",
				Help: "Total order book snapshot/delta events processed",
			},
			[]string{"venue", "symbol", "kind"},
		),
		CandleFolds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_candle_folds_total",
				Help: "Total tick folds into in-flight candles",
			},
			[]string{"venue", "symbol", "timeframe"},
		),
		AggThrottleDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_agg_throttle_drops_total",
				Help: "Total aggregated-book updates dropped by the per-symbol publish throttle",
			},
			[]string{"symbol"},
		),
		PublishBusDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketdata_publish_bus_active_handlers",
				Help: "Active subscriber handler count per channel",
			},
			[]string{"channel"},
		),
		ColdStoreFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_coldstore_failures_total",
				Help: "Total failed cold store batch writes by venue",
			},
			[]string{"venue"},
		),
		PipelineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdata_pipeline_errors_total",
				Help: "Total pipeline errors by component and error kind",
			},
			[]string{"component", "kind"},
		),
	}

	reg.MustRegister(
		r.WSReconnects, r.WSLatency, r.OrderbookUpdates, r.CandleFolds,
		r.AggThrottleDrops, r.PublishBusDepth, r.ColdStoreFailures, r.PipelineErrors,
	)

	return r
}

// Handler returns an HTTP handler serving this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordReconnect records a venue reconnect attempt outcome ("success" or "failure").
func (r *Registry) RecordReconnect(venue, outcome string) {
	r.WSReconnects.WithLabelValues(venue, outcome).Inc()
}

// RecordOrderbookUpdate records a processed snapshot or delta.
func (r *Registry) RecordOrderbookUpdate(venue, symbol, kind string) {
	r.OrderbookUpdates.WithLabelValues(venue, symbol, kind).Inc()
}

// RecordCandleFold records a tick fold into a given timeframe's builder.
func (r *Registry) RecordCandleFold(venue, symbol, timeframe string) {
	r.CandleFolds.WithLabelValues(venue, symbol, timeframe).Inc()
}

// RecordThrottleDrop records an aggregated-book update dropped by the throttle.
func (r *Registry) RecordThrottleDrop(symbol string) {
	r.AggThrottleDrops.WithLabelValues(symbol).Inc()
}

// RecordPipelineError records a non-fatal pipeline error by component and kind.
func (r *Registry) RecordPipelineError(component, kind string) {
	r.PipelineErrors.WithLabelValues(component, kind).Inc()
}
