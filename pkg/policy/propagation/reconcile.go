package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/bastion/pkg/policy"
)

// LookupFunc returns the current content of a policy, or false when the
// policy no longer exists or should not be pushed.
type LookupFunc func(policyID string) (*policy.Policy, bool)

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	TimedOut int
	Retried  int
}

// Reconcile marks bindings stuck in progress for longer than staleAfter as
// timed out, then re-pushes every policy of bindings in the failed or
// timeout state using the current content returned by lookup.
func (p *Propagator) Reconcile(staleAfter time.Duration, lookup LookupFunc) (ReconcileReport, error) {
	var report ReconcileReport
	now := p.clock.Now()

	type retry struct {
		serviceID string
		ids       []string
	}
	var retries []retry

	p.mu.Lock()
	for _, b := range p.bindings {
		if b.Status == policy.BindingInProgress && staleAfter > 0 && now.Sub(b.LastUpdate) > staleAfter {
			b.Status = policy.BindingTimeout
			b.ErrorCount++
			b.LastUpdate = now
			p.failures.Add(1)
			report.TimedOut++
			p.logger.Warn("propagation stalled",
				"service_id", b.ServiceID,
				"stale_after", staleAfter,
			)
		}
		if (b.Status == policy.BindingFailed || b.Status == policy.BindingTimeout) && len(b.PolicyIDs) > 0 {
			retries = append(retries, retry{serviceID: b.ServiceID, ids: append([]string(nil), b.PolicyIDs...)})
		}
	}
	p.mu.Unlock()

	if lookup == nil {
		return report, nil
	}
	for _, r := range retries {
		for _, id := range r.ids {
			pol, ok := lookup(id)
			if !ok {
				continue
			}
			if err := p.repush(r.serviceID, pol); err != nil {
				return report, err
			}
			report.Retried++
		}
	}
	return report, nil
}

// repush re-sends pol to a single service without changing its policy set.
func (p *Propagator) repush(serviceID string, pol *policy.Policy) error {
	p.mu.Lock()
	b, ok := p.bindings[serviceID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	b.Status = policy.BindingInProgress
	b.LastUpdate = p.clock.Now()
	b.pushGeneration++
	j := job{
		serviceID:  serviceID,
		generation: b.pushGeneration,
		binding:    copyBinding(&b.ServicePolicyBinding),
		policy:     pol.Clone(),
	}
	p.mu.Unlock()
	return p.enqueue(j)
}

// Reconciler runs Reconcile on a cron schedule.
type Reconciler struct {
	propagator *Propagator
	lookup     LookupFunc
	schedule   string
	staleAfter time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewReconciler creates a reconciler. The schedule accepts standard cron
// expressions and descriptors such as "@every 30s".
func NewReconciler(p *Propagator, lookup LookupFunc, schedule string, staleAfter time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		propagator: p,
		lookup:     lookup,
		schedule:   schedule,
		staleAfter: staleAfter,
		cron:       cron.New(),
		logger:     logger.With("component", "propagation.reconciler"),
	}
}

// Start schedules reconciliation. An empty schedule disables it. The
// reconciler stops when ctx is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.schedule == "" {
		r.logger.Info("reconcile schedule not configured, skipping reconciler")
		return nil
	}
	if _, err := cron.ParseStandard(r.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", r.schedule, err)
	}
	if _, err := r.cron.AddFunc(r.schedule, r.RunOnce); err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	r.cron.Start()
	r.running = true
	r.logger.Info("reconciler started", "schedule", r.schedule, "stale_after", r.staleAfter)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// RunOnce executes a single reconciliation pass.
func (r *Reconciler) RunOnce() {
	report, err := r.propagator.Reconcile(r.staleAfter, r.lookup)
	if err != nil {
		r.logger.Error("reconciliation failed", "error", err)
		return
	}
	if report.TimedOut > 0 || report.Retried > 0 {
		r.logger.Info("reconciliation completed",
			"timed_out", report.TimedOut,
			"retried", report.Retried,
		)
		return
	}
	r.logger.Debug("reconciliation completed, nothing to do")
}

// Stop stops the schedule and waits for a running pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		<-r.cron.Stop().Done()
		r.running = false
		r.logger.Info("reconciler stopped")
	}
}

// IsRunning reports whether the schedule is active.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
