package metrics

import (
	"time"

	"mercator-hq/bastion/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// PropagationMetrics tracks pushes of policy sets to services.
//
// Metrics:
//   - bastion_policy_pushes_total: Pushes by service and resulting binding status
//   - bastion_policy_push_duration_seconds: Push latency by service
type PropagationMetrics struct {
	pushesTotal  *prometheus.CounterVec
	pushDuration *prometheus.HistogramVec
}

// NewPropagationMetrics creates and registers propagation metrics.
func NewPropagationMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PropagationMetrics {
	pm := &PropagationMetrics{
		pushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pushes_total",
				Help:      "Total number of policy pushes to services",
			},
			[]string{"service", "status"},
		),

		pushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "push_duration_seconds",
				Help:      "Duration of policy pushes in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"service"},
		),
	}

	registry.MustRegister(pm.pushesTotal, pm.pushDuration)

	return pm
}

// RecordPush records one push attempt.
func (pm *PropagationMetrics) RecordPush(serviceID, status string, duration time.Duration) {
	pm.pushesTotal.WithLabelValues(serviceID, status).Inc()
	pm.pushDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}
