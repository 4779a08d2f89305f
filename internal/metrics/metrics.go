// Package metrics exposes Prometheus collectors describing a verification run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rebutqc"

// Metrics holds the run collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	batchCalls    *prometheus.CounterVec
	batchRetries  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	itemStates    *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	m.registry = reg
	return m
}

// MustNewMetrics registers the collectors with reg and panics on conflicts
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		batchCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_calls_total",
				Help:      "External service calls by phase and outcome.",
			},
			[]string{"phase", "status"},
		),
		batchRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_retries_total",
				Help:      "Batch calls that were repeated after a failed or malformed response.",
			},
			[]string{"phase"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_call_duration_seconds",
				Help:      "Latency of a single external service call.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"phase"},
		),
		itemStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Rebuttal items by final verification state.",
			},
			[]string{"state"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Scoring cache lookups by result.",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.batchCalls, m.batchRetries, m.batchDuration, m.itemStates, m.cacheLookups)
	return m
}

// ObserveCall records one external call
func (m *Metrics) ObserveCall(phase string, err error, latency time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.batchCalls.WithLabelValues(phase, status).Inc()
	m.batchDuration.WithLabelValues(phase).Observe(latency.Seconds())
}

// IncRetry records a repeated batch call
func (m *Metrics) IncRetry(phase string) {
	if m == nil {
		return
	}
	m.batchRetries.WithLabelValues(phase).Inc()
}

// IncItemState records an item reaching its final state
func (m *Metrics) IncItemState(state string) {
	if m == nil {
		return
	}
	m.itemStates.WithLabelValues(state).Inc()
}

// ObserveCacheLookup records a cache hit or miss
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// WriteTextfile writes the collectors in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || m.registry == nil {
		return fmt.Errorf("metrics have no private registry to export")
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
