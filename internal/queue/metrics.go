package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkgate_queue_jobs_enqueued_total",
		Help: "Jobs accepted by Enqueue, by job type.",
	}, []string{"type"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkgate_queue_jobs_completed_total",
		Help: "Jobs that reached completed, by job type.",
	}, []string{"type"})

	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkgate_queue_jobs_failed_total",
		Help: "Jobs that reached terminal failed, by job type.",
	}, []string{"type"})

	jobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkgate_queue_jobs_retried_total",
		Help: "Retry attempts scheduled, by job type.",
	}, []string{"type"})

	jobsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkgate_queue_jobs_reaped_total",
		Help: "Jobs reclaimed from processing by the stuck-job reaper.",
	}, []string{"type"})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inkgate_queue_jobs_in_flight",
		Help: "Jobs currently held by a worker.",
	})

	processingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inkgate_queue_processing_duration_seconds",
		Help:    "Wall-clock duration of a single job attempt.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"type"})
)
