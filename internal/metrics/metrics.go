// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sahayak_gateway_requests_total",
			Help: "Assistant round-trips by outcome.",
		},
		[]string{"outcome"},
	)

	GatewayLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sahayak_gateway_latency_seconds",
			Help:    "Latency of assistant round-trips.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	WidgetSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sahayak_widget_sessions_active",
			Help: "Widget sessions currently connected.",
		},
	)

	VoiceSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sahayak_voice_sessions_total",
			Help: "Speech capture sessions started, by provider.",
		},
		[]string{"provider"},
	)

	SubmissionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sahayak_submissions_rejected_total",
			Help: "Submissions dropped before reaching the assistant, by reason.",
		},
		[]string{"reason"},
	)
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		GatewayRequests,
		GatewayLatency,
		WidgetSessions,
		VoiceSessions,
		SubmissionsRejected,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
