// Package metrics exposes the server's Prometheus instrumentation: a small
// private registry wrapping the handful of gauges and counters the session
// and registry layers update as they run. Grounded on runZeroInc-sockstats'
// pkg/exporter and the tick-storm-style TCP servers in this project's
// lineage, both of which wire github.com/prometheus/client_golang directly
// rather than going through an HTTP framework's middleware.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the relay updates.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions   prometheus.Gauge
	FramesRead       prometheus.Counter
	FramesWritten    prometheus.Counter
	ChecksumFailures prometheus.Counter
	MessagesByType   *prometheus.CounterVec
	Broadcasts       prometheus.Counter
	Unicasts         prometheus.Counter
	LoginRejections  *prometheus.CounterVec
}

// New builds a fresh registry and registers all metrics with it.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatrelay",
			Name:      "active_sessions",
			Help:      "Number of currently logged-in sessions.",
		}),
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "frames_read_total",
			Help:      "Total frames successfully read by session receive loops (login frames are not counted).",
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "frames_written_total",
			Help:      "Total frames successfully written through session Send (login rejection frames are not counted).",
		}),
		ChecksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "checksum_failures_total",
			Help:      "Total header or data checksum verification failures.",
		}),
		MessagesByType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "messages_by_type_total",
			Help:      "Total inbound messages dispatched, by message type.",
		}, []string{"type"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "broadcasts_total",
			Help:      "Total MESSAGE frames fanned out to dest=all.",
		}),
		Unicasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "unicasts_total",
			Help:      "Total MESSAGE frames forwarded to a single destination.",
		}),
		LoginRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "login_rejections_total",
			Help:      "Total rejected login attempts, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.ActiveSessions,
		m.FramesRead,
		m.FramesWritten,
		m.ChecksumFailures,
		m.MessagesByType,
		m.Broadcasts,
		m.Unicasts,
		m.LoginRejections,
	)
	return m
}

// Handler returns the http.Handler serving this registry's /metrics page.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
