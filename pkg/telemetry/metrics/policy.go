package metrics

import (
	"time"

	"mercator-hq/bastion/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// PolicyMetrics tracks evaluation and store activity.
//
// Metrics:
//   - bastion_policy_evaluations_total: Evaluations by decision
//   - bastion_policy_evaluation_duration_seconds: Evaluation latency
//   - bastion_policy_matches: Matched policies per evaluation
//   - bastion_policy_conflicts_total: Conflicts detected during evaluation
//   - bastion_policy_changes_total: Store mutations by operation
//   - bastion_policy_policies: Stored policies by state
//   - bastion_policy_violations_total: Recorded violations by category and severity
//   - bastion_policy_rollbacks_total: Rollbacks performed
type PolicyMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	matches            prometheus.Histogram
	conflictsTotal     prometheus.Counter
	changesTotal       *prometheus.CounterVec
	policies           *prometheus.GaugeVec
	violationsTotal    *prometheus.CounterVec
	rollbacksTotal     prometheus.Counter
}

// NewPolicyMetrics creates and registers policy metrics with the provided registry.
func NewPolicyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PolicyMetrics {
	pm := &PolicyMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluations_total",
				Help:      "Total number of policy evaluations",
			},
			[]string{"decision"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of policy evaluation in seconds",
				Buckets:   cfg.EvaluationDurationBuckets,
			},
			[]string{"decision"},
		),

		matches: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "matches",
				Help:      "Number of policies matched per evaluation",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),

		conflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "conflicts_total",
				Help:      "Total number of policy conflicts detected",
			},
		),

		changesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "changes_total",
				Help:      "Total number of policy store mutations",
			},
			[]string{"op"},
		),

		policies: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policies",
				Help:      "Number of stored policies",
			},
			[]string{"state"},
		),

		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "violations_total",
				Help:      "Total number of recorded violations",
			},
			[]string{"category", "severity"},
		),

		rollbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rollbacks_total",
				Help:      "Total number of policy rollbacks",
			},
		),
	}

	registry.MustRegister(
		pm.evaluationsTotal,
		pm.evaluationDuration,
		pm.matches,
		pm.conflictsTotal,
		pm.changesTotal,
		pm.policies,
		pm.violationsTotal,
		pm.rollbacksTotal,
	)

	return pm
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// RecordEvaluation records a completed evaluation.
func (pm *PolicyMetrics) RecordEvaluation(allowed bool, matches, conflicts int, duration time.Duration) {
	decision := decisionLabel(allowed)
	pm.evaluationsTotal.WithLabelValues(decision).Inc()
	pm.evaluationDuration.WithLabelValues(decision).Observe(duration.Seconds())
	pm.matches.Observe(float64(matches))
	if conflicts > 0 {
		pm.conflictsTotal.Add(float64(conflicts))
	}
}

// RecordChange counts a store mutation.
func (pm *PolicyMetrics) RecordChange(op string) {
	pm.changesTotal.WithLabelValues(op).Inc()
}

// UpdateLoaded sets the total and enabled policy gauges.
func (pm *PolicyMetrics) UpdateLoaded(total, enabled int) {
	pm.policies.WithLabelValues("total").Set(float64(total))
	pm.policies.WithLabelValues("enabled").Set(float64(enabled))
}

// RecordViolation counts a recorded violation.
func (pm *PolicyMetrics) RecordViolation(category, severity string) {
	pm.violationsTotal.WithLabelValues(category, severity).Inc()
}

// RecordRollback counts a rollback.
func (pm *PolicyMetrics) RecordRollback() {
	pm.rollbacksTotal.Inc()
}
