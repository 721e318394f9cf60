package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry holds every pipejob collector; the API server exposes it.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		JobTotal, TaskDuration, TaskFailTotal,
		RetryTotal, SplitJobsTotal, JobsRunning,
	)
}

// JobTotal counts jobs that reached a final state, by status.
var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipejob_job_total",
		Help: "Jobs that reached a final state.",
	},
	[]string{"status"}, // complete | error | cancelled | interrupted
)

// TaskDuration is the wall time of task executions in seconds.
var TaskDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pipejob_task_duration_seconds",
		Help:    "Task execution time in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	},
	[]string{"task"},
)

// TaskFailTotal counts failed task executions.
var TaskFailTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipejob_task_fail_total",
		Help: "Failed task executions.",
	},
	[]string{"task"},
)

// RetryTotal counts automatic retries started.
var RetryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipejob_retry_total",
		Help: "Automatic retries started.",
	},
	[]string{"task"},
)

// SplitJobsTotal counts split children created.
var SplitJobsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pipejob_split_jobs_total",
		Help: "Split jobs created.",
	},
)

// JobsRunning is the number of jobs currently driven by a queue.
var JobsRunning = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pipejob_jobs_running",
		Help: "Jobs currently executing.",
	},
	[]string{"location"},
)

// Handler serves DefaultRegistry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
