package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Processor metrics

	JobsLockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "jobs_locked_total",
		Help:      "Total jobs successfully locked for execution, by name.",
	}, []string{"name"})

	JobPickupLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from a job's due nextRunAt to the worker locking it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"name"})

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "job_execution_duration_seconds",
		Help:      "Duration of a handler invocation, by name and outcome.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"name", "outcome"})

	JobsRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "jobs_running",
		Help:      "Number of jobs currently being executed, by name.",
	}, []string{"name"})

	LockExpirationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "lock_expirations_total",
		Help:      "Total locks reclaimed by the watchdog after a run exceeded its lock lifetime.",
	}, []string{"name"})

	RetriesScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "retries_scheduled_total",
		Help:      "Total retries scheduled after a handler failure, by name.",
	}, []string{"name"})

	DebounceMergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "debounce_merges_total",
		Help:      "Total saves coalesced into an existing debounced record, by name.",
	}, []string{"name"})

	NotificationErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "notification_errors_total",
		Help:      "Total errors publishing or consuming cross-process notifications.",
	}, []string{"direction"})

	// HTTP metrics (admin API)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

// Register adds every series to the default Prometheus registry. Call once
// at process startup.
func Register() {
	prometheus.MustRegister(
		JobsLockedTotal,
		JobPickupLatency,
		JobExecutionDuration,
		JobsRunning,
		LockExpirationsTotal,
		RetriesScheduledTotal,
		DebounceMergesTotal,
		NotificationErrorsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer returns an HTTP server exposing /metrics for scraping.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
