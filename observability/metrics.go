package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records creation and settlement activity for the escrow
// factory and the gateway front-end.
type EscrowMetrics struct {
	creations   *prometheus.CounterVec
	settlements *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Escrow returns the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			creations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crosslock",
				Subsystem: "escrow",
				Name:      "creations_total",
				Help:      "Escrow creation attempts segmented by side and outcome.",
			}, []string{"side", "outcome"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crosslock",
				Subsystem: "escrow",
				Name:      "settlements_total",
				Help:      "Escrow settlement transitions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "crosslock",
				Subsystem: "gateway",
				Name:      "request_seconds",
				Help:      "Gateway request latency segmented by route and status.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(escrowRegistry.creations, escrowRegistry.settlements, escrowRegistry.latency)
	})
	return escrowRegistry
}

// ObserveCreation records one creation attempt.
func (m *EscrowMetrics) ObserveCreation(side, outcome string) {
	if m == nil {
		return
	}
	m.creations.WithLabelValues(side, outcome).Inc()
}

// ObserveSettlement records one settlement transition.
func (m *EscrowMetrics) ObserveSettlement(action, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(action, outcome).Inc()
}

// ObserveRequest records one gateway request.
func (m *EscrowMetrics) ObserveRequest(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(route, status).Observe(elapsed.Seconds())
}
