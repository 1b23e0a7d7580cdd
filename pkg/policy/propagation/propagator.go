// Package propagation pushes enabled policies to the downstream services
// named by their scope and tracks a binding per service.
//
// Propagate updates the affected bindings synchronously and hands each push
// to a bounded queue drained by a worker pool, so callers return once the
// push is handed off. Push outcomes arrive asynchronously and update the
// binding status: only the outcome of the most recent push for a binding
// sets its status, while every outcome is counted in the statistics.
//
// Target services are derived from the scope: a system scope targets the
// literal service "all", a service scope targets that service and every
// other scope targets nothing.
package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/bastion/pkg/clock"
	"mercator-hq/bastion/pkg/policy"
)

// AllServices is the binding that receives system-scoped policies.
const AllServices = "all"

// Config configures a Propagator.
type Config struct {
	// Workers is the number of concurrent pushes. Defaults to 4.
	Workers int

	// QueueSize bounds pending pushes. Defaults to 256.
	QueueSize int

	// PushTimeout bounds a single push. Defaults to 5s.
	PushTimeout time.Duration
}

// DefaultConfig returns the default propagator configuration.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256, PushTimeout: 5 * time.Second}
}

// Observer is notified of every completed push.
type Observer interface {
	PushCompleted(serviceID string, status policy.BindingStatus, duration time.Duration)
}

type binding struct {
	policy.ServicePolicyBinding

	// pushGeneration increments on every push so that late outcomes of
	// superseded pushes do not overwrite the status. Edits of the policy
	// set alone leave it untouched.
	pushGeneration uint64
}

type job struct {
	serviceID  string
	generation uint64
	binding    policy.ServicePolicyBinding
	policy     *policy.Policy

	// withdrawID is set for withdrawal jobs, which carry no policy.
	withdrawID string

	// span links the push to the mutation that caused it.
	span trace.SpanContext
}

// Propagator tracks bindings and dispatches pushes. It is safe for concurrent use.
type Propagator struct {
	mu       sync.RWMutex
	bindings map[string]*binding

	transport Transport
	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger
	observer  Observer

	queue    chan job
	wg       sync.WaitGroup
	closing  chan struct{}
	stopOnce sync.Once

	success  atomic.Uint64
	failures atomic.Uint64
}

// Option configures a Propagator.
type Option func(*Propagator)

// WithClock sets the clock used for binding timestamps.
func WithClock(c clock.Clock) Option {
	return func(p *Propagator) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Propagator) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver installs a push observer, e.g. a metrics collector.
func WithObserver(o Observer) Option {
	return func(p *Propagator) { p.observer = o }
}

// New creates a propagator and starts its workers.
func New(t Transport, cfg Config, opts ...Option) *Propagator {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = def.PushTimeout
	}
	if t == nil {
		t = Discard{}
	}

	p := &Propagator{
		bindings:  make(map[string]*binding),
		transport: t,
		cfg:       cfg,
		clock:     clock.Real{},
		logger:    slog.Default(),
		queue:     make(chan job, cfg.QueueSize),
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "propagator", "transport", t.Name())

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Targets returns the services a scope propagates to.
func Targets(s policy.Scope) []string {
	switch s.Kind {
	case policy.ScopeSystem:
		return []string{AllServices}
	case policy.ScopeService:
		return []string{s.ID}
	}
	return nil
}

// Propagate records pol in the bindings of its target services and hands a
// push for each target to the workers. It returns the targeted services.
// The span in ctx, if any, is carried into the push. ErrServiceUnavailable
// is returned after Shutdown.
func (p *Propagator) Propagate(ctx context.Context, pol *policy.Policy) ([]string, error) {
	targets := Targets(pol.Scope)
	if len(targets) == 0 {
		return nil, nil
	}

	snapshot := pol.Clone()
	now := p.clock.Now()
	sc := trace.SpanContextFromContext(ctx)

	p.mu.Lock()
	jobs := make([]job, 0, len(targets))
	for _, service := range targets {
		b, ok := p.bindings[service]
		if !ok {
			b = &binding{ServicePolicyBinding: policy.ServicePolicyBinding{
				ServiceID: service,
				Status:    policy.BindingPending,
			}}
			p.bindings[service] = b
		}
		if !slices.Contains(b.PolicyIDs, pol.ID) {
			b.PolicyIDs = append(b.PolicyIDs, pol.ID)
		}
		b.Status = policy.BindingInProgress
		b.LastUpdate = now
		b.pushGeneration++
		jobs = append(jobs, job{
			serviceID:  service,
			generation: b.pushGeneration,
			binding:    copyBinding(&b.ServicePolicyBinding),
			policy:     snapshot,
			span:       sc,
		})
	}
	p.mu.Unlock()

	for _, j := range jobs {
		if err := p.enqueue(j); err != nil {
			return targets, err
		}
	}
	return targets, nil
}

// Remove strips policyID from every binding. Bindings left without policies
// become disabled. Transports implementing Withdrawer are asked to drop the
// policy from each affected service.
func (p *Propagator) Remove(ctx context.Context, policyID string) {
	now := p.clock.Now()
	sc := trace.SpanContextFromContext(ctx)

	p.mu.Lock()
	var affected []string
	for _, b := range p.bindings {
		i := slices.Index(b.PolicyIDs, policyID)
		if i < 0 {
			continue
		}
		b.PolicyIDs = slices.Delete(b.PolicyIDs, i, i+1)
		b.LastUpdate = now
		if len(b.PolicyIDs) == 0 {
			b.Status = policy.BindingDisabled
			p.logger.Info("binding disabled", "service_id", b.ServiceID, "policy_id", policyID)
		}
		affected = append(affected, b.ServiceID)
	}
	p.mu.Unlock()

	if _, ok := p.transport.(Withdrawer); !ok {
		return
	}
	for _, service := range affected {
		if err := p.enqueue(job{serviceID: service, withdrawID: policyID, span: sc}); err != nil {
			p.logger.Warn("withdrawal not queued", "service_id", service, "policy_id", policyID, "error", err)
		}
	}
}

// Binding returns the binding of a service.
func (p *Propagator) Binding(serviceID string) (policy.ServicePolicyBinding, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	b, ok := p.bindings[serviceID]
	if !ok {
		return policy.ServicePolicyBinding{}, fmt.Errorf("%w: binding for service %s", policy.ErrNotFound, serviceID)
	}
	return copyBinding(&b.ServicePolicyBinding), nil
}

// Bindings returns all bindings ordered by service id.
func (p *Propagator) Bindings() []policy.ServicePolicyBinding {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]policy.ServicePolicyBinding, 0, len(p.bindings))
	for _, b := range p.bindings {
		out = append(out, copyBinding(&b.ServicePolicyBinding))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// Success returns the number of successful pushes.
func (p *Propagator) Success() uint64 { return p.success.Load() }

// Failures returns the number of failed or timed out pushes.
func (p *Propagator) Failures() uint64 { return p.failures.Load() }

// Pending returns the number of queued pushes.
func (p *Propagator) Pending() int { return len(p.queue) }

// Shutdown stops accepting pushes and waits for queued pushes to drain or
// for ctx to expire. It is safe to call more than once.
func (p *Propagator) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		close(p.closing)
		close(p.queue)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("propagator drain: %w", ctx.Err())
	}
}

// enqueue hands a job to the workers, blocking while the queue is full.
// The read lock excludes a concurrent close of the queue.
func (p *Propagator) enqueue(j job) error {
	for {
		p.mu.RLock()
		select {
		case <-p.closing:
			p.mu.RUnlock()
			return fmt.Errorf("%w: propagator is shut down", policy.ErrServiceUnavailable)
		default:
		}
		select {
		case p.queue <- j:
			p.mu.RUnlock()
			return nil
		default:
		}
		p.mu.RUnlock()

		select {
		case <-p.closing:
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (p *Propagator) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		p.push(j)
	}
}

func (p *Propagator) push(j job) {
	if j.withdrawID != "" {
		p.withdraw(j)
		return
	}
	ctx, cancel := context.WithTimeout(j.traceContext(), p.cfg.PushTimeout)
	start := time.Now()
	err := p.transport.Push(ctx, j.binding, j.policy)
	cancel()

	status := Classify(err)
	p.complete(j, status, err)
	if p.observer != nil {
		p.observer.PushCompleted(j.serviceID, status, time.Since(start))
	}
}

func (p *Propagator) withdraw(j job) {
	ctx, cancel := context.WithTimeout(j.traceContext(), p.cfg.PushTimeout)
	defer cancel()
	if err := p.transport.(Withdrawer).Withdraw(ctx, j.serviceID, j.withdrawID); err != nil {
		p.logger.Warn("policy withdrawal failed",
			"service_id", j.serviceID,
			"policy_id", j.withdrawID,
			"error", err,
		)
	}
}

// traceContext returns a background context carrying the originating span, so
// transports can forward the trace to the service.
func (j job) traceContext() context.Context {
	if !j.span.IsValid() {
		return context.Background()
	}
	return trace.ContextWithSpanContext(context.Background(), j.span)
}

// Classify maps a transport error to a binding status.
func Classify(err error) policy.BindingStatus {
	switch {
	case err == nil:
		return policy.BindingSuccess
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTransportTimeout):
		return policy.BindingTimeout
	}
	return policy.BindingFailed
}

func (p *Propagator) complete(j job, status policy.BindingStatus, err error) {
	if status == policy.BindingSuccess {
		p.success.Add(1)
	} else {
		p.failures.Add(1)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.bindings[j.serviceID]
	if !ok {
		return
	}
	if status != policy.BindingSuccess {
		b.ErrorCount++
	}
	// A disabled binding keeps its status until the next push.
	if b.pushGeneration != j.generation || len(b.PolicyIDs) == 0 {
		return
	}
	b.Status = status
	b.LastUpdate = p.clock.Now()

	if err != nil {
		p.logger.Warn("policy push failed",
			"service_id", j.serviceID,
			"policy_id", j.policy.ID,
			"status", status,
			"error_count", b.ErrorCount,
			"error", err,
		)
		return
	}
	p.logger.Debug("policy pushed", "service_id", j.serviceID, "policy_id", j.policy.ID)
}

func copyBinding(b *policy.ServicePolicyBinding) policy.ServicePolicyBinding {
	c := *b
	c.PolicyIDs = slices.Clone(b.PolicyIDs)
	if c.PolicyIDs == nil {
		c.PolicyIDs = []string{}
	}
	return c
}
