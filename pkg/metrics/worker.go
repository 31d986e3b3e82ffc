package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics records cycle metadata for background workers (outbox
// dispatch, notification attempts).
type WorkerMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

// NewWorkerMetrics registers the worker metrics on the provided registerer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		return &WorkerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_task_duration_seconds",
		Help:    "Duration of worker tasks in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_task_success",
		Help: "Successful worker task executions.",
	}, []string{"task"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_task_failure",
		Help: "Failed worker task executions.",
	}, []string{"task"})
	reg.MustRegister(duration, success, failure)
	return &WorkerMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
	}
}

// ObserveDuration records the duration for the named task.
func (m *WorkerMetrics) ObserveDuration(task string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(task)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named task.
func (m *WorkerMetrics) IncSuccess(task string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(task)).Inc()
}

// IncFailure increments the failure counter for the named task.
func (m *WorkerMetrics) IncFailure(task string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(task)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return strings.ReplaceAll(trimmed, " ", "_")
}
