package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	apiRequestsTotal    *prometheus.CounterVec
	apiLatencySeconds   *prometheus.HistogramVec
	apiErrorsTotal      *prometheus.CounterVec
	queueDepth          prometheus.Gauge
	runsTotal           *prometheus.CounterVec
	runDurationSeconds  prometheus.Histogram
	stageFailuresTotal  *prometheus.CounterVec
	timelineEventsTotal *prometheus.CounterVec
	timelineClients     prometheus.Gauge
	submissionsTotal    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the review API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "api_requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gema",
			Name:      "api_latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "api_errors_total",
			Help:      "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gema",
			Name:      "review_queue_depth",
			Help:      "Runs waiting in the review queue.",
		})

		runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "review_runs_total",
			Help:      "Review runs by terminal status.",
		}, []string{"status"})

		runDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gema",
			Name:      "review_run_duration_seconds",
			Help:      "Wall-clock duration of review runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		})

		stageFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "review_stage_failures_total",
			Help:      "Pipeline stage failures by stage and error type.",
		}, []string{"stage", "type"})

		timelineEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "timeline_events_total",
			Help:      "Timeline events published by type.",
		}, []string{"type"})

		timelineClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gema",
			Name:      "timeline_clients_active",
			Help:      "Connected timeline stream clients.",
		})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gema",
			Name:      "submissions_total",
			Help:      "Submission uploads by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			queueDepth, runsTotal, runDurationSeconds, stageFailuresTotal,
			timelineEventsTotal, timelineClients, submissionsTotal,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// QueueDepth exposes the gauge of queued runs.
func QueueDepth() prometheus.Gauge {
	RegisterMetrics()
	return queueDepth
}

// RunsTotal exposes the counter of finished runs by status.
func RunsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return runsTotal
}

// RunDuration exposes the run duration histogram.
func RunDuration() prometheus.Histogram {
	RegisterMetrics()
	return runDurationSeconds
}

// StageFailures exposes the counter of failed pipeline stages.
func StageFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return stageFailuresTotal
}

// TimelineEvents exposes the counter of published timeline events.
func TimelineEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return timelineEventsTotal
}

// TimelineClients exposes the gauge of connected timeline streams.
func TimelineClients() prometheus.Gauge {
	RegisterMetrics()
	return timelineClients
}

// Submissions exposes the counter of submission uploads.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}
