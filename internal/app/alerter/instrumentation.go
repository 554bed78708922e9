package alerter

import (
	"github.com/prometheus/client_golang/prometheus" // Prometheus metrics.

	"github.com/mintel/elasticsearch-alerter/internal/pkg/metrics" // Prometheus metrics tools.
)

// Instrumentation holds Prometheus metrics specific to
// the alerter App.
type Instrumentation struct {
	// Count of rule evaluations that ran a query.
	Evaluations prometheus.Counter

	// Count of evaluations skipped by the interval gate.
	EvaluationsSkipped prometheus.Counter

	// Count of evaluations that failed (config error or query error).
	EvaluationFailures prometheus.Counter

	// Number of seconds spent evaluating rules.
	EvaluationSeconds prometheus.Summary

	// Count of alert notifications delivered successfully.
	AlertsSent prometheus.Counter

	// Count of alert notifications that exhausted their retries
	// or send budget.
	AlertsFailed prometheus.Counter

	// Number of rule tasks currently running.
	RulesRunning prometheus.Gauge

	// Count of retention cleanup runs.
	CleanupRuns prometheus.Counter

	// Count of alert rows deleted by retention cleanup.
	CleanupDeleted prometheus.Counter
}

// NewInstrumentation returns a new Instrumentation.
func NewInstrumentation(namespace string) *Instrumentation {
	return &Instrumentation{
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Count of rule evaluations that ran an Elasticsearch query.",
		}),
		EvaluationsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_skipped_total",
			Help:      "Count of rule evaluations skipped by the interval gate.",
		}),
		EvaluationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_failures_total",
			Help:      "Count of rule evaluations that failed.",
		}),
		EvaluationSeconds: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       "evaluation_duration_seconds",
			Help:       "Number of seconds spent evaluating rules.",
			Objectives: metrics.DefaultObjectives,
		}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Count of alert notifications delivered successfully.",
		}),
		AlertsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_failed_total",
			Help:      "Count of alert notifications that failed.",
		}),
		RulesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_running",
			Help:      "Number of rule tasks currently running.",
		}),
		CleanupRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_runs_total",
			Help:      "Count of retention cleanup runs.",
		}),
		CleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Count of alert rows deleted by retention cleanup.",
		}),
	}
}

// Describe implements the prometheus.Collector interface.
func (m *Instrumentation) Describe(c chan<- *prometheus.Desc) {
	m.Evaluations.Describe(c)
	m.EvaluationsSkipped.Describe(c)
	m.EvaluationFailures.Describe(c)
	m.EvaluationSeconds.Describe(c)
	m.AlertsSent.Describe(c)
	m.AlertsFailed.Describe(c)
	m.RulesRunning.Describe(c)
	m.CleanupRuns.Describe(c)
	m.CleanupDeleted.Describe(c)
}

// Collect implements the prometheus.Collector interface.
func (m *Instrumentation) Collect(c chan<- prometheus.Metric) {
	m.Evaluations.Collect(c)
	m.EvaluationsSkipped.Collect(c)
	m.EvaluationFailures.Collect(c)
	m.EvaluationSeconds.Collect(c)
	m.AlertsSent.Collect(c)
	m.AlertsFailed.Collect(c)
	m.RulesRunning.Collect(c)
	m.CleanupRuns.Collect(c)
	m.CleanupDeleted.Collect(c)
}
