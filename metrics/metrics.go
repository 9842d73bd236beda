// Package metrics exposes Prometheus instruments for escrow operations and
// the outbox relay.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type EscrowMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	published  *prometheus.CounterVec
	custody    prometheus.Gauge
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the process-wide instruments, registering them on first use.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = New(prometheus.DefaultRegisterer)
	})
	return escrowRegistry
}

// New builds and registers a fresh set of instruments on reg.
func New(reg prometheus.Registerer) *EscrowMetrics {
	m := &EscrowMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_operations_total",
			Help: "Escrow operations by name and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_operation_duration_seconds",
			Help:    "Latency of escrow operations including the database transaction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_outbox_published_total",
			Help: "Outbox messages handed to the publisher by result.",
		}, []string{"result"}),
		custody: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_custody_total_wei",
			Help: "Last observed custody total (may lose precision above 2^53).",
		}),
	}
	reg.MustRegister(m.operations, m.duration, m.published, m.custody)
	return m
}

// ObserveOperation records one escrow call. result is "ok" or an error kind.
func (m *EscrowMetrics) ObserveOperation(operation, result string, took time.Duration) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(took.Seconds())
}

// ObserveOutbox records one relay delivery attempt.
func (m *EscrowMetrics) ObserveOutbox(result string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(result).Inc()
}

// SetCustody records the custody total.
func (m *EscrowMetrics) SetCustody(total float64) {
	if m == nil {
		return
	}
	m.custody.Set(total)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
