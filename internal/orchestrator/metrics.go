package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects orchestration and spend metrics.
//
// Built on Prometheus. Tracks job throughput and terminal states, metered
// decision calls and token consumption per model, realized cost, budget
// status transitions, and checkpoint writes.
type Metrics struct {
	// JobsTotal counts finished jobs.
	// Labels: status (completed|failed|timeout)
	JobsTotal *prometheus.CounterVec

	// JobDuration measures wall-clock job duration in seconds.
	// Buckets: 0.1s to 1h
	JobDuration prometheus.Histogram

	// ActiveJobs is a gauge of jobs currently being driven.
	ActiveJobs prometheus.Gauge

	// MeteredCalls counts decision calls by model and phase.
	MeteredCalls *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: model, type (input|output)
	TokensUsed *prometheus.CounterVec

	// CostTotal accumulates realized cost in dollars by model.
	CostTotal *prometheus.CounterVec

	// BudgetNotices counts budget status transitions.
	// Labels: scope (power|job), status (WARNING|EXCEEDED)
	BudgetNotices *prometheus.CounterVec

	// CheckpointsSaved counts durable checkpoint writes.
	CheckpointsSaved prometheus.Counter
}

// NewMetrics creates and registers all metrics with reg. Tests pass their own
// registry; production wiring passes prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_jobs_total",
				Help: "Total number of finished jobs by terminal status",
			},
			[]string{"status"},
		),

		JobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arena_job_duration_seconds",
				Help:    "Wall-clock duration of jobs in seconds",
				Buckets: []float64{0.1, 1, 10, 60, 300, 900, 1800, 3600},
			},
		),

		ActiveJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "arena_active_jobs",
				Help: "Number of jobs currently running",
			},
		),

		MeteredCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_metered_calls_total",
				Help: "Total number of metered decision calls by model and phase",
			},
			[]string{"model", "phase"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_tokens_total",
				Help: "Total number of tokens consumed by model and type",
			},
			[]string{"model", "type"},
		),

		CostTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_cost_dollars_total",
				Help: "Total realized cost in dollars by model",
			},
			[]string{"model"},
		),

		BudgetNotices: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arena_budget_notices_total",
				Help: "Total number of budget status transitions by scope and status",
			},
			[]string{"scope", "status"},
		),

		CheckpointsSaved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "arena_checkpoints_saved_total",
				Help: "Total number of checkpoint writes",
			},
		),
	}
}
