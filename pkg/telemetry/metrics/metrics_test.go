package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/bastion/pkg/config"
	"mercator-hq/bastion/pkg/policy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Helper function to create test config
func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:                   true,
		Namespace:                 "test",
		Subsystem:                 "policy",
		EvaluationDurationBuckets: []float64{0.0001, 0.001, 0.01},
	}
}

func TestCollector_NewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)

	if collector.config != cfg {
		t.Error("Collector config not set correctly")
	}
	if collector.Registry() != registry {
		t.Error("Collector registry not set correctly")
	}
}

func TestCollector_Defaults(t *testing.T) {
	cfg := &config.MetricsConfig{Enabled: true}
	NewCollector(cfg, nil)

	if cfg.Namespace != config.DefaultMetricsNamespace || cfg.Subsystem != config.DefaultMetricsSubsystem {
		t.Errorf("namespace/subsystem = %q/%q, want defaults", cfg.Namespace, cfg.Subsystem)
	}
	if len(cfg.EvaluationDurationBuckets) == 0 {
		t.Error("expected default evaluation buckets")
	}
}

func TestCollector_EvaluationCompleted(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.EvaluationCompleted(true, 2, 0, false, 200*time.Microsecond)
	collector.EvaluationCompleted(false, 3, 2, false, time.Millisecond)
	collector.EvaluationCompleted(false, 3, 2, true, time.Microsecond)

	pm := collector.policyMetrics
	if got := testutil.ToFloat64(pm.evaluationsTotal.WithLabelValues("allow")); got != 1 {
		t.Errorf("allow evaluations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.evaluationsTotal.WithLabelValues("deny")); got != 2 {
		t.Errorf("deny evaluations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.conflictsTotal); got != 4 {
		t.Errorf("conflicts = %v, want 4", got)
	}

	cm := collector.cacheMetrics
	if got := testutil.ToFloat64(cm.hitsTotal.WithLabelValues("evaluation")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(cm.missesTotal.WithLabelValues("evaluation")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
}

func TestCollector_StoreMetrics(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.PolicyChanged("create")
	collector.PolicyChanged("create")
	collector.PolicyChanged("delete")
	collector.PoliciesLoaded(5, 3)
	collector.RollbackPerformed()
	collector.ViolationRecorded(policy.Violation{
		PolicyID:     "p1",
		RuleCategory: policy.CategoryAccess,
		Severity:     policy.PriorityHigh,
	})

	pm := collector.policyMetrics
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"create", testutil.ToFloat64(pm.changesTotal.WithLabelValues("create")), 2},
		{"delete", testutil.ToFloat64(pm.changesTotal.WithLabelValues("delete")), 1},
		{"total policies", testutil.ToFloat64(pm.policies.WithLabelValues("total")), 5},
		{"enabled policies", testutil.ToFloat64(pm.policies.WithLabelValues("enabled")), 3},
		{"rollbacks", testutil.ToFloat64(pm.rollbacksTotal), 1},
		{"violations", testutil.ToFloat64(pm.violationsTotal.WithLabelValues("access", "high")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_PushCompleted(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.cardinalityLimiter = NewCardinalityLimiter(1)

	collector.PushCompleted("svc-a", policy.BindingSuccess, 5*time.Millisecond)
	collector.PushCompleted("svc-a", policy.BindingFailed, 5*time.Millisecond)
	collector.PushCompleted("svc-b", policy.BindingSuccess, 5*time.Millisecond)

	pm := collector.propagationMetrics
	if got := testutil.ToFloat64(pm.pushesTotal.WithLabelValues("svc-a", "success")); got != 1 {
		t.Errorf("svc-a success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.pushesTotal.WithLabelValues("svc-a", "failed")); got != 1 {
		t.Errorf("svc-a failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.pushesTotal.WithLabelValues(otherService, "success")); got != 1 {
		t.Errorf("other success = %v, want 1", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, nil)

	collector.EvaluationCompleted(true, 1, 0, false, time.Millisecond)
	collector.PolicyChanged("create")
	collector.PushCompleted("svc", policy.BindingSuccess, time.Millisecond)

	if got := testutil.CollectAndCount(collector.policyMetrics.evaluationsTotal); got != 0 {
		t.Errorf("evaluation series = %d, want 0 when disabled", got)
	}
	if got := testutil.CollectAndCount(collector.propagationMetrics.pushesTotal); got != 0 {
		t.Errorf("push series = %d, want 0 when disabled", got)
	}
}

func TestCollector_UpdateCacheSize(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.UpdateCacheSize("evaluation", 42)

	if got := testutil.ToFloat64(collector.cacheMetrics.entries.WithLabelValues("evaluation")); got != 42 {
		t.Errorf("cache entries = %v, want 42", got)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)

	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("first two label values should be allowed")
	}
	if cl.Allow("c") {
		t.Error("third label value should be rejected")
	}
	if !cl.Allow("a") {
		t.Error("existing label value should stay allowed")
	}
	if cl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cl.Count())
	}
}

func TestHandler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.PolicyChanged("create")

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_policy_changes_total{op="create"} 1`) {
		t.Errorf("body missing changes counter:\n%s", rec.Body.String())
	}
}
