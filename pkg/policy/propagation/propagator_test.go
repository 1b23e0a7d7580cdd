package propagation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/bastion/pkg/clock"
	"mercator-hq/bastion/pkg/policy"
)

func testPolicy(id string, scope policy.Scope) *policy.Policy {
	return &policy.Policy{
		ID:       id,
		Name:     id,
		Category: policy.CategorySystem,
		Scope:    scope,
		Enabled:  true,
		Rules: []policy.Rule{{
			ID: "r", Name: "r", Enabled: true,
			Actions: []policy.Action{{Kind: policy.ActionLog}},
		}},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func shutdown(t *testing.T, p *Propagator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestTargets(t *testing.T) {
	tests := []struct {
		scope policy.Scope
		want  []string
	}{
		{policy.SystemScope(), []string{"all"}},
		{policy.ServiceScope("fs"), []string{"fs"}},
		{policy.UserScope("alice"), nil},
		{policy.RoleScope("admin"), nil},
	}
	for _, tt := range tests {
		got := Targets(tt.scope)
		if len(got) != len(tt.want) || (len(got) == 1 && got[0] != tt.want[0]) {
			t.Errorf("Targets(%v) = %v, want %v", tt.scope, got, tt.want)
		}
	}
}

func TestPropagate_Success(t *testing.T) {
	mem := NewMemory()
	p := New(mem, Config{Workers: 2})
	defer shutdown(t, p)

	targets, err := p.Propagate(context.Background(), testPolicy("p1", policy.ServiceScope("fs")))
	if err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
	if len(targets) != 1 || targets[0] != "fs" {
		t.Errorf("Propagate() targets = %v, want [fs]", targets)
	}

	waitFor(t, "success", func() bool {
		b, _ := p.Binding("fs")
		return b.Status == policy.BindingSuccess
	})
	b, _ := p.Binding("fs")
	if len(b.PolicyIDs) != 1 || b.PolicyIDs[0] != "p1" || b.ErrorCount != 0 {
		t.Errorf("Binding(fs) = %+v", b)
	}
	if p.Success() != 1 || p.Failures() != 0 {
		t.Errorf("Success/Failures = %d/%d, want 1/0", p.Success(), p.Failures())
	}
	if pushes := mem.Pushes(); len(pushes) != 1 || pushes[0].Policy.ID != "p1" {
		t.Errorf("Pushes() = %+v", pushes)
	}
}

func TestPropagate_NoTargets(t *testing.T) {
	p := New(NewMemory(), Config{})
	defer shutdown(t, p)

	targets, err := p.Propagate(context.Background(), testPolicy("p1", policy.UserScope("alice")))
	if err != nil || targets != nil {
		t.Errorf("Propagate(user scope) = %v, %v, want nil, nil", targets, err)
	}
	if len(p.Bindings()) != 0 {
		t.Errorf("Bindings() = %v, want none", p.Bindings())
	}
}

func TestPropagate_FailureAndTimeout(t *testing.T) {
	tr := Func(func(ctx context.Context, b policy.ServicePolicyBinding, pol *policy.Policy) error {
		if b.ServiceID == "slow" {
			<-ctx.Done()
			return ctx.Err()
		}
		return errors.New("agent refused")
	})
	p := New(tr, Config{Workers: 2, PushTimeout: 20 * time.Millisecond})
	defer shutdown(t, p)

	_, _ = p.Propagate(context.Background(), testPolicy("p1", policy.ServiceScope("broken")))
	_, _ = p.Propagate(context.Background(), testPolicy("p2", policy.ServiceScope("slow")))

	waitFor(t, "failed and timeout", func() bool {
		a, _ := p.Binding("broken")
		b, _ := p.Binding("slow")
		return a.Status == policy.BindingFailed && b.Status == policy.BindingTimeout
	})
	a, _ := p.Binding("broken")
	b, _ := p.Binding("slow")
	if a.ErrorCount != 1 || b.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d/%d, want 1/1", a.ErrorCount, b.ErrorCount)
	}
	if p.Failures() != 2 || p.Success() != 0 {
		t.Errorf("Success/Failures = %d/%d, want 0/2", p.Success(), p.Failures())
	}
}

func TestPropagate_LatestOutcomeWins(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	tr := Func(func(ctx context.Context, b policy.ServicePolicyBinding, pol *policy.Policy) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-release
			return errors.New("stale failure")
		}
		return nil
	})
	p := New(tr, Config{Workers: 2, PushTimeout: time.Second})
	defer shutdown(t, p)

	pol := testPolicy("p1", policy.ServiceScope("fs"))
	_, _ = p.Propagate(context.Background(), pol)
	waitFor(t, "first push started", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})
	_, _ = p.Propagate(context.Background(), pol)
	waitFor(t, "second push success", func() bool {
		b, _ := p.Binding("fs")
		return b.Status == policy.BindingSuccess
	})

	close(release)
	waitFor(t, "stale failure counted", func() bool { return p.Failures() == 1 })

	b, _ := p.Binding("fs")
	if b.Status != policy.BindingSuccess {
		t.Errorf("Status = %v, want success", b.Status)
	}
	if b.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", b.ErrorCount)
	}
	if len(b.PolicyIDs) != 1 {
		t.Errorf("PolicyIDs = %v, want one id", b.PolicyIDs)
	}
}

func TestRemove_DisablesEmptyBindings(t *testing.T) {
	mem := NewMemory()
	p := New(mem, Config{})
	defer shutdown(t, p)

	_, _ = p.Propagate(context.Background(), testPolicy("p1", policy.SystemScope()))
	_, _ = p.Propagate(context.Background(), testPolicy("p2", policy.SystemScope()))
	_, _ = p.Propagate(context.Background(), testPolicy("p3", policy.ServiceScope("fs")))

	p.Remove(context.Background(), "p1")
	p.Remove(context.Background(), "p3")

	all, _ := p.Binding("all")
	if len(all.PolicyIDs) != 1 || all.PolicyIDs[0] != "p2" {
		t.Errorf("Binding(all).PolicyIDs = %v, want [p2]", all.PolicyIDs)
	}
	fs, _ := p.Binding("fs")
	if fs.Status != policy.BindingDisabled || len(fs.PolicyIDs) != 0 {
		t.Errorf("Binding(fs) = %+v, want disabled and empty", fs)
	}

	waitFor(t, "withdrawals", func() bool { return len(mem.Withdrawals()) == 2 })

	// A late push outcome must not resurrect a disabled binding.
	time.Sleep(20 * time.Millisecond)
	fs, _ = p.Binding("fs")
	if fs.Status != policy.BindingDisabled {
		t.Errorf("Binding(fs).Status = %v after drain, want disabled", fs.Status)
	}

	if _, err := p.Binding("net"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("Binding(net) error = %v, want ErrNotFound", err)
	}
}

func TestRemove_KeepsInFlightOutcome(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tr := Func(func(ctx context.Context, b policy.ServicePolicyBinding, pol *policy.Policy) error {
		if pol.ID == "p2" {
			started <- struct{}{}
			<-release
		}
		return nil
	})
	p := New(tr, Config{Workers: 2, PushTimeout: time.Second})
	defer shutdown(t, p)

	_, _ = p.Propagate(context.Background(), testPolicy("p1", policy.SystemScope()))
	waitFor(t, "p1 pushed", func() bool { return p.Success() == 1 })

	_, _ = p.Propagate(context.Background(), testPolicy("p2", policy.SystemScope()))
	<-started
	p.Remove(context.Background(), "p1")
	close(release)

	waitFor(t, "p2 outcome applied", func() bool {
		b, _ := p.Binding(AllServices)
		return b.Status == policy.BindingSuccess
	})
	b, _ := p.Binding(AllServices)
	if len(b.PolicyIDs) != 1 || b.PolicyIDs[0] != "p2" || b.ErrorCount != 0 {
		t.Errorf("Binding(all) = %+v, want [p2] without errors", b)
	}

	report, err := p.Reconcile(time.Nanosecond, nil)
	if err != nil || report.TimedOut != 0 {
		t.Errorf("Reconcile() = %+v, %v, want nothing timed out", report, err)
	}
	if p.Success() != 2 || p.Failures() != 0 {
		t.Errorf("Success/Failures = %d/%d, want 2/0", p.Success(), p.Failures())
	}
}

func TestShutdown_DrainsAndRejects(t *testing.T) {
	mem := NewMemory()
	p := New(mem, Config{Workers: 1, QueueSize: 64})

	for i := 0; i < 20; i++ {
		_, _ = p.Propagate(context.Background(), testPolicy("p", policy.ServiceScope("fs")))
	}
	shutdown(t, p)

	if got := len(mem.Pushes()); got != 20 {
		t.Errorf("pushes after drain = %d, want 20", got)
	}
	if _, err := p.Propagate(context.Background(), testPolicy("late", policy.SystemScope())); !errors.Is(err, policy.ErrServiceUnavailable) {
		t.Errorf("Propagate() after Shutdown error = %v, want ErrServiceUnavailable", err)
	}
	shutdown(t, p)
}

func TestReconcile(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	block := make(chan struct{})
	var mu sync.Mutex
	fail := true
	tr := Func(func(ctx context.Context, b policy.ServicePolicyBinding, pol *policy.Policy) error {
		if b.ServiceID == "stuck" {
			<-block
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return errors.New("down")
		}
		return nil
	})
	p := New(tr, Config{Workers: 2, PushTimeout: time.Minute}, WithClock(fake))
	defer func() {
		close(block)
		shutdown(t, p)
	}()

	pFlaky := testPolicy("flaky", policy.ServiceScope("flaky"))
	_, _ = p.Propagate(context.Background(), pFlaky)
	_, _ = p.Propagate(context.Background(), testPolicy("stuck", policy.ServiceScope("stuck")))
	waitFor(t, "flaky failed", func() bool {
		b, _ := p.Binding("flaky")
		return b.Status == policy.BindingFailed
	})

	mu.Lock()
	fail = false
	mu.Unlock()
	fake.Advance(2 * time.Minute)

	lookup := func(id string) (*policy.Policy, bool) {
		if id == "flaky" {
			return pFlaky, true
		}
		return nil, false
	}
	report, err := p.Reconcile(time.Minute, lookup)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if report.TimedOut != 1 || report.Retried != 1 {
		t.Errorf("Reconcile() = %+v, want 1 timed out and 1 retried", report)
	}
	stuck, _ := p.Binding("stuck")
	if stuck.Status != policy.BindingTimeout || stuck.ErrorCount != 1 {
		t.Errorf("Binding(stuck) = %+v, want timeout with one error", stuck)
	}
	waitFor(t, "flaky recovered", func() bool {
		b, _ := p.Binding("flaky")
		return b.Status == policy.BindingSuccess
	})
}

func TestReconciler_InvalidSchedule(t *testing.T) {
	p := New(Discard{}, Config{})
	defer shutdown(t, p)

	r := NewReconciler(p, nil, "every now and then", time.Minute, nil)
	if err := r.Start(context.Background()); err == nil {
		t.Error("Start() with invalid schedule expected error")
	}

	disabled := NewReconciler(p, nil, "", time.Minute, nil)
	if err := disabled.Start(context.Background()); err != nil || disabled.IsRunning() {
		t.Errorf("Start(empty) = %v, running %v, want nil and not running", err, disabled.IsRunning())
	}
}

func TestReconciler_StartStop(t *testing.T) {
	p := New(Discard{}, Config{})
	defer shutdown(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewReconciler(p, nil, "@every 1h", time.Minute, nil)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !r.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	r.RunOnce()
	cancel()
	waitFor(t, "reconciler stop", func() bool { return !r.IsRunning() })
}
