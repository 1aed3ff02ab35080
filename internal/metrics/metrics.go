// Package metrics exposes Prometheus instrumentation for the quiz archive
// worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// JobsCompleted counts jobs that reached a terminal status, labelled by
	// that status.
	JobsCompleted = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz_archive_worker",
		Name:      "jobs_completed_total",
		Help:      "Number of archive jobs that reached a terminal status.",
	}, []string{"status"})

	// JobsRejected counts archive requests turned away at admission.
	JobsRejected = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz_archive_worker",
		Name:      "jobs_rejected_total",
		Help:      "Number of archive requests rejected before queueing.",
	}, []string{"reason"})

	// QueueLength tracks the number of jobs waiting in the queue.
	QueueLength = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "quiz_archive_worker",
		Name:      "queue_length",
		Help:      "Number of archive jobs currently queued.",
	})

	// JobDuration observes wall-clock job execution time.
	JobDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "quiz_archive_worker",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of archive job execution.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
