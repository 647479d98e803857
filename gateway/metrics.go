package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parleyhq/parley/metric"
)

// Metrics holds Prometheus metrics for the protocol gateway
type Metrics struct {
	connectionsTotal  prometheus.Counter
	identifiesTotal   *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	broadcastDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
}

// newMetrics creates and registers gateway metrics. Returns nil when no
// registry is provided, which disables instrumentation.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "connections_total",
			Help:      "Total accepted WebSocket connections",
		}),

		identifiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "identifies_total",
			Help:      "Identify attempts by result",
		}, []string{"result"}),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "frames_received_total",
			Help:      "Inbound frames by opcode",
		}, []string{"opcode"}),

		broadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to fan an event out to its target sessions",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"event"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Gateway errors by type",
		}, []string{"error_type"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.connectionsTotal,
		m.identifiesTotal,
		m.framesReceived,
		m.broadcastDuration,
		m.errorsTotal,
	)

	return m
}
