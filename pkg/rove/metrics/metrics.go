// Package metrics exposes Prometheus counters and histograms for the
// Agent Loop, Rate Limiter, and Verification Pipeline, grounded on
// BaSui01-agentflow/internal/metrics/collector.go's NewCollector
// pattern — promauto-registered CounterVec/HistogramVec fields on one
// struct — adapted to log through log/slog (the teacher's own logger)
// instead of agentflow's zap.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric Rove's core records.
type Collector struct {
	TaskCompletions     *prometheus.CounterVec
	TaskDuration        *prometheus.HistogramVec
	AgentIterations     prometheus.Histogram
	RateLimitDenials    *prometheus.CounterVec
	CircuitBreakerTrips *prometheus.CounterVec
	VerificationResults *prometheus.CounterVec
	PluginCrashes       *prometheus.CounterVec

	logger *slog.Logger
}

// New registers every metric under namespace and returns the Collector.
// Registering twice under the same namespace against the default
// registry panics, matching promauto's own contract — callers should
// construct exactly one Collector per process.
func New(namespace string, registerer prometheus.Registerer, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	factory := promauto.With(registerer)

	return &Collector{
		TaskCompletions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_completions_total",
			Help: "Total tasks completed, by terminal status.",
		}, []string{"status", "provider"}),

		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds",
			Help:    "Task duration from submission to terminal state.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),

		AgentIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "agent_iterations",
			Help:    "Number of think/act iterations consumed per task.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),

		RateLimitDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_denials_total",
			Help: "Rate limit denials, by source and tier.",
		}, []string{"source", "tier"}),

		CircuitBreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "circuit_breaker_trips_total",
			Help: "Circuit breaker trips, by source.",
		}, []string{"source"}),

		VerificationResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "verification_results_total",
			Help: "Manifest/plugin verification outcomes, by kind and result.",
		}, []string{"kind", "result"}),

		PluginCrashes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "plugin_crashes_total",
			Help: "Plugin crashes, by plugin name.",
		}, []string{"plugin"}),

		logger: logger.With("component", "metrics"),
	}
}

// RecordTaskCompletion observes one terminal task outcome.
func (c *Collector) RecordTaskCompletion(status, provider string, durationSeconds float64, iterations int) {
	c.TaskCompletions.WithLabelValues(status, provider).Inc()
	c.TaskDuration.WithLabelValues(status).Observe(durationSeconds)
	c.AgentIterations.Observe(float64(iterations))
}
