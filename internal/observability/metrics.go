package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors. A single instance is
// constructed at startup and handed to the packages that record into it,
// keeping registration in one place.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	UpstreamLatency  prometheus.Histogram
	FailoversTotal   prometheus.Counter
	TokenRefreshes   prometheus.Counter
	TranscriptRepair prometheus.Counter
}

// NewMetrics builds and registers all gateway collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "API requests by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		UpstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_seconds",
			Help:    "Latency of upstream chat completion calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		FailoversTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connection_failovers_total",
			Help: "Transport failovers between direct and proxy paths.",
		}),
		TokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_token_refreshes_total",
			Help: "OAuth access token refreshes performed.",
		}),
		TranscriptRepair: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_transcript_repairs_total",
			Help: "Conversations whose tool-call sequences required repair.",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.UpstreamLatency,
		m.FailoversTotal,
		m.TokenRefreshes,
		m.TranscriptRepair,
	)
	return m
}
