// Package metrics exposes Prometheus collectors for the lead service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	leadSubmissionsTotal       *prometheus.CounterVec
	leadEvaluationRetriesTotal prometheus.Counter
	leadActiveWorkers          prometheus.Gauge
	leadOrphanedWorkersTotal   prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		leadSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lead_submissions_total",
				Help: "Total submissions processed by ingestion, labeled by subreddit and outcome.",
			},
			[]string{"subreddit", "outcome"},
		)

		leadEvaluationRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lead_evaluation_retries_total",
				Help: "Total retried evaluate/persist attempts in the ingestion loop.",
			},
		)

		leadActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lead_active_workers",
				Help: "Number of stream workers currently tracked by the registry.",
			},
		)

		leadOrphanedWorkersTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lead_orphaned_workers_total",
				Help: "Workers removed from the registry before their task terminated.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission increments the ingestion counter for one submission.
// Outcomes: accepted, rejected, parked, duplicate.
func ObserveSubmission(subreddit, outcome string) {
	if leadSubmissionsTotal == nil {
		return
	}
	leadSubmissionsTotal.WithLabelValues(subreddit, outcome).Inc()
}

// ObserveEvaluationRetry counts one retried evaluate/persist attempt.
func ObserveEvaluationRetry() {
	if leadEvaluationRetriesTotal == nil {
		return
	}
	leadEvaluationRetriesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if leadActiveWorkers == nil {
		return
	}
	leadActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if leadActiveWorkers == nil {
		return
	}
	leadActiveWorkers.Dec()
}

// ObserveOrphanedWorker counts a registry entry removed on stop timeout.
func ObserveOrphanedWorker() {
	if leadOrphanedWorkersTotal == nil {
		return
	}
	leadOrphanedWorkersTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
