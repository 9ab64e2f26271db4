package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "linechat"

// Metrics holds the Prometheus collectors updated by the chat engine.
type Metrics struct {
	SessionsOnline prometheus.Gauge
	Connections    *prometheus.CounterVec
	AuthAttempts   *prometheus.CounterVec
	Messages       *prometheus.CounterVec
}

// NewMetrics creates the collectors on reg, together with the Go runtime and
// process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &Metrics{
		SessionsOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_online",
			Help:      "Number of authenticated sessions in the registry.",
		}),
		Connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Inbound connections by outcome.",
		}, []string{"result"}),
		AuthAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_attempts_total",
			Help:      "Handshake lines by verb and reply.",
		}, []string{"verb", "result"}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Routed chat lines by kind.",
		}, []string{"kind"}),
	}
}
