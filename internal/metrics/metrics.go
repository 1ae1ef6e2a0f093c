// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Registering the same collector twice panics.
	once sync.Once

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route template and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// LifecycleTransitions counts lifecycle operations; result is "ok",
	// "noop" or the error kind.
	LifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ad_lifecycle_transitions_total",
			Help: "Ad lifecycle operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	AdsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ads_expired_total",
			Help: "Ads deactivated by the expiry sweep.",
		},
	)

	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ad_expiry_sweeps_total",
			Help: "Expiry sweep runs by outcome (ran, skipped, failed).",
		},
		[]string{"outcome"},
	)

	ImageJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ad_image_jobs_total",
			Help: "Image variant jobs by result.",
		},
		[]string{"result"},
	)
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			LifecycleTransitions,
			AdsExpired,
			SweepRuns,
			ImageJobs,
		)
	})
}
