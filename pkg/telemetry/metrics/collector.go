package metrics

import (
	"sync"
	"time"

	"mercator-hq/bastion/pkg/config"
	"mercator-hq/bastion/pkg/policy"

	"github.com/prometheus/client_golang/prometheus"
)

// otherService is the service label used once the cardinality limit is hit.
const otherService = "other"

// Collector records Prometheus metrics for the policy engine and the
// propagation fan-out. It satisfies engine.Metrics and propagation.Observer
// so one value can be handed to both.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	policyMetrics      *PolicyMetrics
	propagationMetrics *PropagationMetrics
	cacheMetrics       *CacheMetrics

	// Service ids come from callers; cap how many become label values.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics. If registry is
// nil a fresh registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "bastion",
//		Subsystem: "policy",
//	}
//	collector := metrics.NewCollector(cfg, nil)
//	eng, _ := engine.New(engineCfg, engine.WithMetrics(collector))
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.EvaluationDurationBuckets) == 0 {
		cfg.EvaluationDurationBuckets = append([]float64(nil), config.DefaultEvaluationDurationBuckets...)
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.policyMetrics = NewPolicyMetrics(cfg, registry)
	c.propagationMetrics = NewPropagationMetrics(cfg, registry)
	c.cacheMetrics = NewCacheMetrics(cfg, registry)

	return c
}

// EvaluationCompleted records one Evaluate call.
func (c *Collector) EvaluationCompleted(allowed bool, matches, conflicts int, cached bool, duration time.Duration) {
	if !c.config.Enabled {
		return
	}

	c.policyMetrics.RecordEvaluation(allowed, matches, conflicts, duration)
	if cached {
		c.cacheMetrics.RecordHit("evaluation")
	} else {
		c.cacheMetrics.RecordMiss("evaluation")
	}
}

// PolicyChanged records a mutation. op is one of create, update, delete,
// enable, disable or rollback.
func (c *Collector) PolicyChanged(op string) {
	if !c.config.Enabled {
		return
	}

	c.policyMetrics.RecordChange(op)
}

// PoliciesLoaded updates the stored and enabled policy gauges.
func (c *Collector) PoliciesLoaded(total, enabled int) {
	if !c.config.Enabled {
		return
	}

	c.policyMetrics.UpdateLoaded(total, enabled)
}

// ViolationRecorded counts a stored violation.
func (c *Collector) ViolationRecorded(v policy.Violation) {
	if !c.config.Enabled {
		return
	}

	c.policyMetrics.RecordViolation(string(v.RuleCategory), v.Severity.String())
}

// RollbackPerformed counts a rollback.
func (c *Collector) RollbackPerformed() {
	if !c.config.Enabled {
		return
	}

	c.policyMetrics.RecordRollback()
}

// PushCompleted records the outcome of a push to one service.
func (c *Collector) PushCompleted(serviceID string, status policy.BindingStatus, duration time.Duration) {
	if !c.config.Enabled {
		return
	}

	if !c.cardinalityLimiter.Allow(serviceID) {
		serviceID = otherService
	}
	c.propagationMetrics.RecordPush(serviceID, string(status), duration)
}

// UpdateCacheSize sets the current number of entries in a cache.
func (c *Collector) UpdateCacheSize(cacheName string, size int) {
	if !c.config.Enabled {
		return
	}

	c.cacheMetrics.UpdateSize(cacheName, size)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether a label value may be used. Values already seen are
// always allowed; new ones are allowed until the limit is reached.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
