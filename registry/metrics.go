package registry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parleyhq/parley/metric"
)

// Metrics holds Prometheus metrics for the connection registry
type Metrics struct {
	sessionsConnected     prometheus.Gauge
	authenticatedSessions prometheus.Gauge
	connectionsTotal      prometheus.Counter
	sweptConnections      prometheus.Counter
	framesDelivered       prometheus.Counter
}

// newMetrics creates and registers registry metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		sessionsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "registry",
			Name:      "sessions_connected",
			Help:      "Number of currently registered sessions",
		}),

		authenticatedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "registry",
			Name:      "sessions_authenticated",
			Help:      "Number of currently authenticated sessions",
		}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "registry",
			Name:      "connections_total",
			Help:      "Total sessions registered (including disconnected)",
		}),

		sweptConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "registry",
			Name:      "swept_connections_total",
			Help:      "Total stale sessions closed by the liveness sweep",
		}),

		framesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "registry",
			Name:      "frames_delivered_total",
			Help:      "Total frames delivered across broadcast and direct sends",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.sessionsConnected,
		m.authenticatedSessions,
		m.connectionsTotal,
		m.sweptConnections,
		m.framesDelivered,
	)

	return m
}
