// Package metrics provides Prometheus metrics for the registry.
//
// HTTP traffic is tracked by the Metrics middleware. The matching, staging and
// knowledge-base packages record their own counters, and every searchable name
// index reports its size and rebuild latency under an "index" label.
//
// All metrics are registered with the Prometheus default registry during package
// initialization.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		},
	)

	RateLimiterBucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limiter_buckets_total",
			Help: "Total number of rate limiter buckets (clients seen in the last cleanup window)",
		},
	)

	// IdentityMatchTotal counts cascade outcomes; strategy is exact, contains,
	// fuzzy, vector or none.
	IdentityMatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_match_total",
			Help: "Identity resolution outcomes by winning strategy",
		},
		[]string{"strategy"},
	)

	KBMatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kb_match_total",
			Help: "Knowledge-base name matches by method",
		},
		[]string{"method"},
	)

	StagingTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staging_transitions_total",
			Help: "Staging candidates processed by action",
		},
		[]string{"action"},
	)

	KBObservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kb_observations_total",
			Help: "Knowledge-base observations by result (created, incremented)",
		},
		[]string{"result"},
	)

	IndexRebuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "index_rebuild_duration_seconds",
			Help:    "Time spent rebuilding a name index",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"index"},
	)

	IndexSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "index_size",
			Help: "Number of entries in the current index snapshot",
		},
		[]string{"index"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestTotals,
		HTTPRequestDuration,
		HTTPRequestInFlight,
		RateLimiterBucketsTotal,
		IdentityMatchTotal,
		KBMatchTotal,
		StagingTransitionsTotal,
		KBObservationsTotal,
		IndexRebuildDuration,
		IndexSize,
	)
}
