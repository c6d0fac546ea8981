package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsProcessedTotal, jobDurationMs, queueRetriesTotal) }

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inference_jobs_processed_total",
		Help: "Total inference jobs finished by the worker, labeled by status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var jobDurationMs = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "inference_job_duration_ms",
		Help:    "End-to-end processing duration of one job attempt in milliseconds.",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
	},
)

var queueRetriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "inference_queue_retries_total",
		Help: "Job attempts sent back through the delayed set for retry.",
	},
)

func IncInferenceJob(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveJobDuration(d time.Duration) {
	jobDurationMs.Observe(float64(d.Milliseconds()))
}

func IncQueueRetry() {
	queueRetriesTotal.Inc()
}
