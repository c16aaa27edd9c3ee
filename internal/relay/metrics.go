package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "peershare_relay"

// Metrics holds the relay's collectors on a private registry so several
// servers can coexist in one process (tests start many).
type Metrics struct {
	registry *prometheus.Registry

	PeersConnected     prometheus.Gauge
	AdmissionsRejected *prometheus.CounterVec
	MessagesForwarded  prometheus.Counter
	MessagesDropped    *prometheus.CounterVec
	RateLimited        prometheus.Counter
	Evictions          prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "peers_connected",
			Help:      "Number of peers currently registered.",
		}),
		AdmissionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "admissions_rejected_total",
			Help:      "Connections refused before registration, by reason.",
		}, []string{"reason"}),
		MessagesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_forwarded_total",
			Help:      "Messages delivered to a target peer.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages discarded, by reason.",
		}, []string{"reason"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_rate_limited_total",
			Help:      "Inbound messages denied by the per-peer rate limit.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "liveness_evictions_total",
			Help:      "Peers terminated for missing a liveness probe.",
		}),
	}

	m.registry.MustRegister(
		m.PeersConnected,
		m.AdmissionsRejected,
		m.MessagesForwarded,
		m.MessagesDropped,
		m.RateLimited,
		m.Evictions,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
