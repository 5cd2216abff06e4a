// Package metrics implements the engine's instruments port on Prometheus.
// The registry is owned by the Metrics value and passed in where needed; no
// default-registry globals, so tests and benchmarks get isolated registries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roshanshah11/vertexladder/pkg/book"
)

// Metrics collects engine counters and latency histograms.
type Metrics struct {
	registry *prometheus.Registry

	ordersAccepted prometheus.Counter
	ordersRejected prometheus.Counter
	tradesExecuted prometheus.Counter
	tradedQuantity prometheus.Counter
	queueFull      prometheus.Counter

	bookDepth       *prometheus.GaugeVec
	matchingLatency prometheus.Histogram
	drainBatch      prometheus.Histogram
}

var _ book.Instruments = (*Metrics)(nil)

// New creates a Metrics with its own registry.
func New(namespace, symbol string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"symbol": symbol}

	m := &Metrics{
		registry: registry,
		ordersAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "orders_accepted_total",
			Help:        "Orders admitted to the matching engine",
			ConstLabels: labels,
		}),
		ordersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "orders_rejected_total",
			Help:        "Orders rejected by validation or risk",
			ConstLabels: labels,
		}),
		tradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "trades_executed_total",
			Help:        "Trades executed",
			ConstLabels: labels,
		}),
		tradedQuantity: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "traded_quantity_total",
			Help:        "Cumulative traded quantity in shares",
			ConstLabels: labels,
		}),
		queueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "queue_full_total",
			Help:        "Command submissions refused because a shard was full",
			ConstLabels: labels,
		}),
		bookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "book_depth_levels",
			Help:        "Price levels currently in the book by side",
			ConstLabels: labels,
		}, []string{"side"}),
		matchingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "matching_latency_nanoseconds",
			Help:        "Matching pass latency in nanoseconds",
			ConstLabels: labels,
			Buckets:     []float64{100, 250, 500, 1000, 2500, 5000, 10000, 25000, 100000, 1000000},
		}),
		drainBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "queue_drain_batch_size",
			Help:        "Commands and feed updates consumed per drain pass",
			ConstLabels: labels,
			Buckets:     []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 1024, 4096},
		}),
	}

	registry.MustRegister(
		m.ordersAccepted, m.ordersRejected, m.tradesExecuted, m.tradedQuantity,
		m.queueFull, m.bookDepth, m.matchingLatency, m.drainBatch,
	)
	return m
}

func (m *Metrics) OrderAccepted() { m.ordersAccepted.Inc() }
func (m *Metrics) OrderRejected() { m.ordersRejected.Inc() }

func (m *Metrics) TradeExecuted(qty book.Quantity) {
	m.tradesExecuted.Inc()
	m.tradedQuantity.Add(float64(qty))
}

func (m *Metrics) QueueFull() { m.queueFull.Inc() }

func (m *Metrics) ObserveMatchNanos(ns int64) {
	m.matchingLatency.Observe(float64(ns))
}

func (m *Metrics) ObserveDrainBatch(n int) {
	m.drainBatch.Observe(float64(n))
}

func (m *Metrics) SetDepth(bidLevels, askLevels int) {
	m.bookDepth.WithLabelValues("buy").Set(float64(bidLevels))
	m.bookDepth.WithLabelValues("sell").Set(float64(askLevels))
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler serving the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
