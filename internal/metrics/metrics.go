// internal/metrics/metrics.go

// Package metrics declares the Prometheus collectors for the engine. All
// metrics carry the paros_ prefix and register themselves on the default
// registry; the API layer serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted counts tasks accepted for execution.
	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paros_tasks_submitted_total",
		Help: "Total tasks accepted for execution",
	})

	// TaskTransitions counts task lifecycle transitions by target status.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paros_task_transitions_total",
		Help: "Total task lifecycle transitions by target status",
	}, []string{"status"})

	// TaskDuration tracks wall time from processing start to terminal state.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paros_task_duration_seconds",
		Help:    "Task duration from processing start to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"type", "status"})

	// ActiveTasks tracks tasks currently being executed by this engine.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paros_active_tasks",
		Help: "Tasks currently being executed by this engine",
	})

	// SubTasksExecuted counts subtask executions by step type and result.
	SubTasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paros_subtasks_executed_total",
		Help: "Total subtask executions by step type and result",
	}, []string{"type", "result"})

	// SubTaskDuration tracks subtask execution latency by step type.
	SubTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paros_subtask_duration_seconds",
		Help:    "Subtask execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"type"})

	// SubTaskRetries counts subtask retry attempts.
	SubTaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paros_subtask_retries_total",
		Help: "Total subtask retry attempts",
	})

	// CacheHits counts result cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paros_cache_hits_total",
		Help: "Total result cache hits",
	})

	// CacheMisses counts result cache misses.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paros_cache_misses_total",
		Help: "Total result cache misses",
	})

	// BreakerRejections counts calls rejected by an open circuit breaker.
	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paros_breaker_rejections_total",
		Help: "Total calls rejected by an open circuit breaker",
	}, []string{"dependency"})

	// BreakerState reports breaker position per dependency
	// (0=closed, 1=open, 2=half-open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paros_breaker_state",
		Help: "Circuit breaker state per dependency (0=closed, 1=open, 2=half-open)",
	}, []string{"dependency"})
)
