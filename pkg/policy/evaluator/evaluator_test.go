package evaluator

import (
	"math"
	"testing"
	"time"

	"mercator-hq/bastion/pkg/policy"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func baseContext() *policy.EvaluationContext {
	return &policy.EvaluationContext{
		UserID:        "alice",
		ServiceID:     "fs",
		ResourceID:    "/etc/shadow",
		ResourceType:  "file",
		Operation:     "Read",
		SecurityLevel: policy.SecurityMedium,
		Timestamp:     now,
		Namespace:     "kernel",
		Roles:         []string{"operator", "auditor"},
		Metadata:      map[string]string{"tenant": "acme", "port": "443", "sent_at": "2025-06-01T11:30:00Z"},
	}
}

func TestScopeAdmits(t *testing.T) {
	ctx := baseContext()
	tests := []struct {
		name  string
		scope policy.Scope
		want  bool
	}{
		{"system", policy.SystemScope(), true},
		{"service match", policy.ServiceScope("fs"), true},
		{"service miss", policy.ServiceScope("net"), false},
		{"user", policy.UserScope("alice"), true},
		{"role", policy.RoleScope("auditor"), true},
		{"role miss", policy.RoleScope("admin"), false},
		{"namespace", policy.NamespaceScope("kernel"), true},
		{"resource", policy.ResourceScope("/etc/shadow"), true},
		{"window inside", policy.TimeWindowScope(now.Add(-time.Hour), now.Add(time.Hour)), true},
		{"window edge", policy.TimeWindowScope(now, now), true},
		{"window outside", policy.TimeWindowScope(now.Add(time.Hour), now.Add(2*time.Hour)), false},
		{"contextual match", policy.ContextualScope(map[string]string{"tenant": "acme"}), true},
		{"contextual missing key", policy.ContextualScope(map[string]string{"region": "eu"}), false},
		{"contextual wrong value", policy.ContextualScope(map[string]string{"tenant": "other"}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScopeAdmits(tt.scope, ctx); got != tt.want {
				t.Errorf("ScopeAdmits(%v) = %v, want %v", tt.scope, got, tt.want)
			}
		})
	}
}

func TestEvaluateCondition(t *testing.T) {
	e := New(nil)
	ctx := baseContext()
	tests := []struct {
		name string
		cond policy.Condition
		want bool
	}{
		{"equals folds case", policy.Condition{Field: "operation", Operator: policy.OpEquals, Value: policy.StringValue("read")}, true},
		{"equals case sensitive", policy.Condition{Field: "operation", Operator: policy.OpEquals, Value: policy.StringValue("read"), CaseSensitive: true}, false},
		{"not equals", policy.Condition{Field: "user_id", Operator: policy.OpNotEquals, Value: policy.StringValue("bob")}, true},
		{"security level less", policy.Condition{Field: "security_level", Operator: policy.OpLess, Value: policy.IntValue(4)}, true},
		{"security level greater", policy.Condition{Field: "security_level", Operator: policy.OpGreater, Value: policy.IntValue(4)}, false},
		{"security level equals", policy.Condition{Field: "security_level", Operator: policy.OpEquals, Value: policy.UintValue(2)}, true},
		{"metadata numeric", policy.Condition{Field: "port", Operator: policy.OpGreater, Value: policy.FloatValue(80.5)}, true},
		{"numeric on text", policy.Condition{Field: "user_id", Operator: policy.OpGreater, Value: policy.IntValue(1)}, false},
		{"contains", policy.Condition{Field: "resource_type", Operator: policy.OpContains, Value: policy.StringValue("IL")}, true},
		{"starts with", policy.Condition{Field: "tenant", Operator: policy.OpStartsWith, Value: policy.StringValue("ac")}, true},
		{"ends with", policy.Condition{Field: "tenant", Operator: policy.OpEndsWith, Value: policy.StringValue("me")}, true},
		{"regex", policy.Condition{Field: "user_id", Operator: policy.OpRegex, Value: policy.StringValue("^AL")}, true},
		{"regex case sensitive", policy.Condition{Field: "user_id", Operator: policy.OpRegex, Value: policy.StringValue("^AL"), CaseSensitive: true}, false},
		{"invalid regex", policy.Condition{Field: "user_id", Operator: policy.OpRegex, Value: policy.StringValue("([")}, false},
		{"in set", policy.Condition{Field: "operation", Operator: policy.OpInSet, Value: policy.SetValue("read", "write")}, true},
		{"not in set", policy.Condition{Field: "operation", Operator: policy.OpNotInSet, Value: policy.SetValue("delete")}, true},
		{"in int range", policy.Condition{Field: "port", Operator: policy.OpInSet, Value: policy.IntRangeValue(1, 1024)}, true},
		{"outside int range", policy.Condition{Field: "security_level", Operator: policy.OpInSet, Value: policy.IntRangeValue(4, 6)}, false},
		{"in time range", policy.Condition{Field: "sent_at", Operator: policy.OpInSet, Value: policy.TimeRangeValue(now.Add(-time.Hour), now)}, true},
		{"bool equals", policy.Condition{Field: "flag", Operator: policy.OpEquals, Value: policy.BoolValue(false)}, false},
		{"exists metadata", policy.Condition{Field: "tenant", Operator: policy.OpExists}, true},
		{"exists direct", policy.Condition{Field: "service_id", Operator: policy.OpExists}, true},
		{"not exists", policy.Condition{Field: "region", Operator: policy.OpNotExists}, true},
		{"missing field equals empty", policy.Condition{Field: "region", Operator: policy.OpEquals, Value: policy.StringValue("")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := e.EvaluateCondition(tt.cond, ctx)
			if got != tt.want {
				t.Errorf("EvaluateCondition(%+v) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func rule(id string, action policy.ActionKind, conds ...policy.Condition) policy.Rule {
	return policy.Rule{
		ID:         id,
		Name:       id,
		Enabled:    true,
		Conditions: conds,
		Actions:    []policy.Action{{Kind: action}},
	}
}

func cond(field string, op policy.Operator, v policy.Value) policy.Condition {
	return policy.Condition{Field: field, Operator: op, Value: v}
}

func TestEvaluatePolicy_Confidence(t *testing.T) {
	e := New(nil)
	ctx := baseContext()

	p := &policy.Policy{
		ID:       "p",
		Name:     "p",
		Enabled:  true,
		Category: policy.CategoryAccess,
		Scope:    policy.SystemScope(),
		Rules: []policy.Rule{
			rule("full", policy.ActionDeny, cond("user_id", policy.OpEquals, policy.StringValue("alice"))),
			rule("half", policy.ActionLog,
				cond("user_id", policy.OpEquals, policy.StringValue("alice")),
				cond("tenant", policy.OpEquals, policy.StringValue("other"))),
			rule("none", policy.ActionLog, cond("user_id", policy.OpEquals, policy.StringValue("bob"))),
		},
	}

	m, ok := e.EvaluatePolicy(p, ctx)
	if !ok {
		t.Fatal("EvaluatePolicy() applies = false, want true")
	}
	if len(m.RuleMatches) != 2 {
		t.Fatalf("RuleMatches = %d, want 2 (full and partial)", len(m.RuleMatches))
	}
	if !m.RuleMatches[0].Matched || m.RuleMatches[1].Matched {
		t.Errorf("Matched flags = %v/%v, want true/false", m.RuleMatches[0].Matched, m.RuleMatches[1].Matched)
	}
	if math.Abs(m.Confidence-0.75) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.75", m.Confidence)
	}
	if !m.HasAction(policy.ActionDeny) || m.HasAction(policy.ActionLog) {
		t.Error("HasAction should only consider fully matched rules")
	}
}

func TestEvaluatePolicy_Exclusions(t *testing.T) {
	e := New(nil)
	ctx := baseContext()
	base := func() *policy.Policy {
		return &policy.Policy{
			ID: "p", Name: "p", Enabled: true, Category: policy.CategoryAccess,
			Scope: policy.SystemScope(),
			Rules: []policy.Rule{rule("r", policy.ActionAudit)},
		}
	}

	tests := []struct {
		name   string
		mutate func(p *policy.Policy)
		want   bool
	}{
		{"vacuous rule applies", func(p *policy.Policy) {}, true},
		{"disabled policy", func(p *policy.Policy) { p.Enabled = false }, false},
		{"disabled rule", func(p *policy.Policy) { p.Rules[0].Enabled = false }, false},
		{"scope excludes", func(p *policy.Policy) { p.Scope = policy.ServiceScope("net") }, false},
		{"gate fails", func(p *policy.Policy) {
			p.Conditions = []policy.Condition{cond("tenant", policy.OpEquals, policy.StringValue("other"))}
		}, false},
		{"gate passes", func(p *policy.Policy) {
			p.Conditions = []policy.Condition{cond("tenant", policy.OpEquals, policy.StringValue("acme"))}
		}, true},
		{"expired", func(p *policy.Policy) {
			exp := now.Add(-time.Minute)
			p.ExpiresAt = &exp
		}, false},
		{"only partial match", func(p *policy.Policy) {
			p.Rules[0].Conditions = []policy.Condition{
				cond("user_id", policy.OpEquals, policy.StringValue("alice")),
				cond("user_id", policy.OpEquals, policy.StringValue("bob")),
			}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(p)
			m, ok := e.EvaluatePolicy(p, ctx)
			if ok != tt.want {
				t.Fatalf("EvaluatePolicy() applies = %v, want %v", ok, tt.want)
			}
			if ok && m.Confidence != 1.0 {
				t.Errorf("Confidence = %v, want 1.0", m.Confidence)
			}
		})
	}
}

func TestEvaluate_ServiceScoping(t *testing.T) {
	e := New(nil)
	p := &policy.Policy{
		ID: "P2", Name: "fs audit", Enabled: true, Category: policy.CategoryData,
		Scope: policy.ServiceScope("fs"),
		Rules: []policy.Rule{rule("r", policy.ActionAudit)},
	}

	ctx := baseContext()
	ctx.ServiceID = "net"
	if got := e.Evaluate([]*policy.Policy{p}, ctx); len(got) != 0 {
		t.Errorf("Evaluate(net) = %d matches, want 0", len(got))
	}

	ctx.ServiceID = "fs"
	got := e.Evaluate([]*policy.Policy{p}, ctx)
	if len(got) != 1 || got[0].PolicyID != "P2" || got[0].Confidence != 1.0 {
		t.Errorf("Evaluate(fs) = %+v, want P2 with confidence 1.0", got)
	}
}

func TestRuleMatch_Parameters(t *testing.T) {
	e := New(nil)
	r := rule("r", policy.ActionQuarantine)
	r.EnableAudit = true
	r.ResourcePool = "io"
	r.ResourceLimit = &policy.ResourceLimit{Resource: "iops", Limit: 100}
	p := &policy.Policy{
		ID: "p", Name: "p", Enabled: true, Category: policy.CategoryResource,
		Scope: policy.SystemScope(), Rules: []policy.Rule{r},
	}

	m, ok := e.EvaluatePolicy(p, baseContext())
	if !ok {
		t.Fatal("EvaluatePolicy() applies = false")
	}
	rm := m.RuleMatches[0]
	if !rm.Flag(policy.ParamEnableAudit) || rm.Flag(policy.ParamQuarantineOnViolation) {
		t.Errorf("Parameters = %v", rm.Parameters)
	}
	if rm.Parameters[policy.ParamResourcePool] != "io" || rm.ResourceLimit == nil {
		t.Errorf("resource pool/limit not carried: %+v", rm)
	}
	if rm.Category != policy.CategoryResource {
		t.Errorf("Category = %v, want resource", rm.Category)
	}
}
