// Package metrics provides Prometheus instrumentation for the fee estimator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Percentile label values.
const (
	LabelLow    = "low"
	LabelMiddle = "middle"
	LabelHigh   = "high"
)

// Metrics holds the estimator's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	blocksProcessed prometheus.Counter
	blocksSkipped   prometheus.Counter
	blockSamples    prometheus.Histogram
	blockEstimate   *prometheus.GaugeVec
	windowEstimate  *prometheus.GaugeVec
	recordDuration  prometheus.Histogram
	lastBlockHeight prometheus.Gauge
	errors          *prometheus.CounterVec
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.blocksProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_processed_total",
		Help:      "Blocks whose estimate was recorded in the window",
	})
	m.blocksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_skipped_total",
		Help:      "Blocks that produced no fee samples",
	})
	m.blockSamples = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "block_samples",
		Help:      "Fee samples per block, filler included",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
	m.blockEstimate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "block_estimate",
		Help:      "Fee rate estimate of the most recent block",
	}, []string{"percentile"})
	m.windowEstimate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "window_estimate",
		Help:      "Column-wise median fee rate over the retained window",
	}, []string{"percentile"})
	m.recordDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "record_duration_seconds",
		Help:      "Time spent in the insert/trim/read transaction",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})
	m.lastBlockHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_block_height",
		Help:      "Height of the last block handed to the estimator",
	})
	m.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by pipeline stage",
	}, []string{"stage"})

	m.registry.MustRegister(
		m.blocksProcessed,
		m.blocksSkipped,
		m.blockSamples,
		m.blockEstimate,
		m.windowEstimate,
		m.recordDuration,
		m.lastBlockHeight,
		m.errors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveBlock records a block whose estimate entered the window.
func (m *Metrics) ObserveBlock(samples int, low, middle, high float64, took time.Duration) {
	if m == nil {
		return
	}
	m.blocksProcessed.Inc()
	m.blockSamples.Observe(float64(samples))
	m.blockEstimate.WithLabelValues(LabelLow).Set(low)
	m.blockEstimate.WithLabelValues(LabelMiddle).Set(middle)
	m.blockEstimate.WithLabelValues(LabelHigh).Set(high)
	m.recordDuration.Observe(took.Seconds())
}

// ObserveSkip records a block that produced no samples.
func (m *Metrics) ObserveSkip() {
	if m == nil {
		return
	}
	m.blocksSkipped.Inc()
}

// SetWindowEstimate publishes the current windowed estimate.
func (m *Metrics) SetWindowEstimate(low, middle, high float64) {
	if m == nil {
		return
	}
	m.windowEstimate.WithLabelValues(LabelLow).Set(low)
	m.windowEstimate.WithLabelValues(LabelMiddle).Set(middle)
	m.windowEstimate.WithLabelValues(LabelHigh).Set(high)
}

// SetHeight publishes the last processed block height.
func (m *Metrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.lastBlockHeight.Set(float64(height))
}

// IncError counts a failure at stage.
func (m *Metrics) IncError(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}
