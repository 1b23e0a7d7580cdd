package engine

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/codec"
	"mercator-hq/bastion/pkg/policy/propagation"
	"mercator-hq/bastion/pkg/policy/source"
)

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInit_AppliesSource(t *testing.T) {
	src := source.NewMemorySource(policy.StrategyDenyAll,
		rulePolicy("bundle-a", policy.PriorityNormal, policy.EnforcementSoft, policy.SystemScope(), policy.ActionAllow),
		rulePolicy("bundle-b", policy.PriorityNormal, policy.EnforcementHard, policy.SystemScope(), policy.ActionDeny),
	)
	e := newTestEngine(t, testConfig(), WithSource(src))

	if got := e.Strategy(); got != policy.StrategyDenyAll {
		t.Errorf("Strategy() = %v, want deny_all", got)
	}
	res := mustEvaluate(t, e, policy.EvaluationContext{})
	if res.Allowed {
		t.Error("deny_all strategy allowed the request")
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Resolution != policy.StrategyDenyAll {
		t.Errorf("Conflicts = %+v, want one resolved deny_all", res.Conflicts)
	}
}

func TestReload_SyncsOwnedPolicies(t *testing.T) {
	ctx := context.Background()
	src := source.NewMemorySource("",
		rulePolicy("keep", policy.PriorityNormal, policy.EnforcementSoft, policy.SystemScope(), policy.ActionLog),
		rulePolicy("drop", policy.PriorityNormal, policy.EnforcementSoft, policy.SystemScope(), policy.ActionLog),
	)
	e := newTestEngine(t, testConfig(), WithSource(src))
	mustCreate(t, e, rulePolicy("api", policy.PriorityNormal, policy.EnforcementSoft, policy.SystemScope(), policy.ActionLog))

	report, err := e.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if report != (SyncReport{Unchanged: 2}) {
		t.Errorf("Reload() unchanged source = %+v, want 2 unchanged", report)
	}

	changed := rulePolicy("keep", policy.PriorityHigh, policy.EnforcementSoft, policy.SystemScope(), policy.ActionLog)
	src.Set(policy.StrategyMostRecent,
		changed,
		rulePolicy("new", policy.PriorityNormal, policy.EnforcementSoft, policy.SystemScope(), policy.ActionLog),
	)
	report, err = e.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	want := SyncReport{Created: 1, Updated: 1, Deleted: 1, StrategyChanged: true}
	if report != want {
		t.Errorf("Reload() = %+v, want %+v", report, want)
	}

	list, _ := e.List()
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	if !slices.Equal(ids, []string{"keep", "api", "new"}) {
		t.Errorf("ids after sync = %v, want [keep api new]", ids)
	}
	keep, _ := e.Get("keep")
	if keep.Priority != policy.PriorityHigh || keep.Version != (policy.Version{Major: 1, Build: 1}) {
		t.Errorf("keep = %v/%v, want high/1.0.0+1", keep.Priority, keep.Version)
	}
}

func TestApplyBundle_Invalid(t *testing.T) {
	e := newTestEngine(t, testConfig())
	bad := rulePolicy("bad", policy.PriorityNormal, policy.EnforcementSoft, policy.SystemScope(), policy.ActionLog)
	bad.Rules = nil

	_, err := e.ApplyBundle(context.Background(), &source.Bundle{Policies: []*policy.Policy{bad}})
	if !errors.Is(err, policy.ErrInvalidPolicy) {
		t.Errorf("ApplyBundle() error = %v, want ErrInvalidPolicy", err)
	}
	if list, _ := e.List(); len(list) != 0 {
		t.Errorf("List() = %d policies after invalid bundle, want 0", len(list))
	}
}

func TestPropagation_ScopeChangeRebinds(t *testing.T) {
	tr := propagation.NewMemory()
	e := newTestEngine(t, testConfig(), WithTransport(tr))
	ctx := context.Background()

	p := mustCreate(t, e, rulePolicy("svc", policy.PriorityNormal, policy.EnforcementSoft, policy.ServiceScope("fs"), policy.ActionLog))
	waitUntil(t, "fs binding success", func() bool {
		b, err := e.Binding("fs")
		return err == nil && b.Status == policy.BindingSuccess
	})

	moved := p.Clone()
	moved.Scope = policy.ServiceScope("net")
	if _, err := e.Update(ctx, "svc", moved); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	waitUntil(t, "net binding success", func() bool {
		b, err := e.Binding("net")
		return err == nil && b.Status == policy.BindingSuccess
	})

	fs, _ := e.Binding("fs")
	if len(fs.PolicyIDs) != 0 || fs.Status != policy.BindingDisabled {
		t.Errorf("fs binding = %+v, want disabled with no policies", fs)
	}
	net, _ := e.Binding("net")
	if !slices.Equal(net.PolicyIDs, []string{"svc"}) {
		t.Errorf("net binding policies = %v, want [svc]", net.PolicyIDs)
	}

	bindings, _ := e.Bindings()
	if len(bindings) != 2 {
		t.Errorf("Bindings() = %d, want 2", len(bindings))
	}
	st, _ := e.Stats()
	if st.PropagationSuccess < 2 {
		t.Errorf("PropagationSuccess = %d, want at least 2", st.PropagationSuccess)
	}
}

func TestPropagation_FailureDoesNotFailMutation(t *testing.T) {
	tr := propagation.NewMemory()
	tr.Fail = func(string, string) error { return errors.New("service down") }
	e := newTestEngine(t, testConfig(), WithTransport(tr))

	mustCreate(t, e, rulePolicy("sys", policy.PriorityNormal, policy.EnforcementSoft, policy.SystemScope(), policy.ActionLog))
	waitUntil(t, "failed binding", func() bool {
		b, err := e.Binding(propagation.AllServices)
		return err == nil && b.Status == policy.BindingFailed
	})
	if _, err := e.Get("sys"); err != nil {
		t.Errorf("Get() error = %v, want the policy stored", err)
	}
	st, _ := e.Stats()
	if st.PropagationFailures == 0 {
		t.Error("PropagationFailures = 0, want > 0")
	}
}

// undecodable encodes normally but can no longer read its own snapshots.
type undecodable struct{ codec.JSON }

func (undecodable) Decode([]byte) (*policy.Policy, error) {
	return nil, policy.ErrVersionMismatch
}

func TestRollback_UndecodableSnapshot(t *testing.T) {
	e := newTestEngine(t, testConfig(), WithCodec(undecodable{}))
	ctx := context.Background()
	mustCreate(t, e, rulePolicy("p", policy.PriorityNormal, policy.EnforcementSoft, policy.SystemScope(), policy.ActionLog))
	hist, _ := e.History("p")

	if _, err := e.Rollback(ctx, "p", hist[0].ID); !errors.Is(err, policy.ErrVersionMismatch) {
		t.Errorf("Rollback() error = %v, want ErrVersionMismatch", err)
	}
	if cur, _ := e.Get("p"); cur.Version != (policy.Version{Major: 1}) {
		t.Errorf("Version = %v after failed rollback, want 1.0.0+0", cur.Version)
	}
}
