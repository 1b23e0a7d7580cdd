package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/bastion/pkg/audit"
	"mercator-hq/bastion/pkg/clock"
	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/codec"
	"mercator-hq/bastion/pkg/policy/conflict"
	"mercator-hq/bastion/pkg/policy/evaluator"
	"mercator-hq/bastion/pkg/policy/history"
	"mercator-hq/bastion/pkg/policy/propagation"
	"mercator-hq/bastion/pkg/policy/source"
	"mercator-hq/bastion/pkg/policy/store"
	"mercator-hq/bastion/pkg/policy/violation"
)

type lifecycle int

const (
	stateNew lifecycle = iota
	stateRunning
	stateStopped
)

// Stats is a snapshot of the engine counters.
type Stats struct {
	TotalPolicies        int    `json:"total_policies"`
	EnabledPolicies      int    `json:"enabled_policies"`
	TotalRules           int    `json:"total_rules"`
	ActiveRules          int    `json:"active_rules"`
	EvaluationsPerformed uint64 `json:"evaluations_performed"`
	PolicyViolations     uint64 `json:"policy_violations"`
	ConflictResolutions  uint64 `json:"conflict_resolutions"`
	PropagationSuccess   uint64 `json:"propagation_success"`
	PropagationFailures  uint64 `json:"propagation_failures"`
	RollbacksPerformed   uint64 `json:"rollbacks_performed"`
	CacheEntries         int    `json:"cache_entries"`
}

// Engine is the policy engine handle. It is safe for concurrent use.
type Engine struct {
	// mu guards the lifecycle state and the component pointers. Mutations
	// hold it exclusively; evaluations and reads share it.
	mu    sync.RWMutex
	state lifecycle

	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   Metrics
	observer  propagation.Observer
	transport propagation.Transport
	sink      audit.Sink
	notifier  violation.Notifier
	src       source.Source
	codec     codec.Codec
	choice    conflict.ChoiceFunc

	store      *store.Store
	history    *history.History
	evaluator  *evaluator.Evaluator
	resolver   *conflict.Resolver
	propagator *propagation.Propagator
	reconciler *propagation.Reconciler
	violations *violation.Log
	cache      *resultCache

	// owned holds the ids last applied from the configuration store, so a
	// bundle sync only deletes policies the store introduced.
	owned map[string]struct{}

	watchCancel context.CancelFunc
	watchDone   chan struct{}

	evaluations         atomic.Uint64
	violationCount      atomic.Uint64
	conflictResolutions atomic.Uint64
	rollbacks           atomic.Uint64
}

// New creates an uninitialized engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		clock:     clock.Real{},
		logger:    slog.Default(),
		tracer:    defaultTracer(),
		metrics:   nopMetrics{},
		transport: propagation.Discard{},
		codec:     codec.JSON{},
		owned:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")

	r, err := e.newResolver(cfg.DefaultStrategy)
	if err != nil {
		return nil, err
	}
	e.resolver = r
	return e, nil
}

func (e *Engine) newResolver(strategy policy.ResolutionStrategy) (*conflict.Resolver, error) {
	return conflict.New(strategy, conflict.WithChoiceFunc(e.choice), conflict.WithLogger(e.logger))
}

// Init initializes the components, loads the default policies when
// configured, applies the configuration store bundle and starts the
// reconciler and source watch. A second call returns
// policy.ErrAlreadyInitialized.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateNew {
		return policy.ErrAlreadyInitialized
	}

	e.store = store.New()
	e.history = history.New(history.Config{
		MaxPerPolicy: e.cfg.MaxHistoryPerPolicy,
		Codec:        e.codec,
		Clock:        e.clock,
		Logger:       e.logger,
	})
	e.evaluator = evaluator.New(e.logger)
	e.violations = violation.New(violation.Config{
		Capacity: e.cfg.ViolationCapacity,
		Sink:     e.sink,
		Notifier: e.notifier,
		Clock:    e.clock,
		Logger:   e.logger,
	})
	e.cache = newResultCache(e.cfg.Cache, e.clock)

	popts := []propagation.Option{propagation.WithClock(e.clock), propagation.WithLogger(e.logger)}
	if e.observer != nil {
		popts = append(popts, propagation.WithObserver(e.observer))
	}
	e.propagator = propagation.New(e.transport, e.cfg.Propagation, popts...)

	// Operations issued below run inside Init and need the running state.
	e.state = stateRunning
	if err := e.bootstrapLocked(ctx); err != nil {
		e.abortInitLocked()
		return err
	}

	if e.cfg.ReconcileSchedule != "" {
		e.reconciler = propagation.NewReconciler(e.propagator, e.lookup, e.cfg.ReconcileSchedule, e.cfg.StaleAfter, e.logger)
		if err := e.reconciler.Start(context.Background()); err != nil {
			e.abortInitLocked()
			return fmt.Errorf("start reconciler: %w", err)
		}
	}

	if w, ok := e.src.(source.Watcher); ok && e.cfg.WatchSource {
		wctx, cancel := context.WithCancel(context.Background())
		e.watchCancel, e.watchDone = cancel, make(chan struct{})
		go e.watch(wctx, w, e.watchDone)
	}

	st := e.store.Stats()
	e.metrics.PoliciesLoaded(st.TotalPolicies, st.EnabledPolicies)
	e.logger.Info("policy engine initialized",
		"policies", st.TotalPolicies,
		"strategy", e.resolver.Strategy(),
		"transport", e.transport.Name(),
	)
	return nil
}

func (e *Engine) bootstrapLocked(ctx context.Context) error {
	if e.cfg.LoadDefaults {
		for _, p := range DefaultPolicies() {
			if _, err := e.createLocked(ctx, p); err != nil {
				return fmt.Errorf("load default policy %s: %w", p.ID, err)
			}
		}
	}
	if e.src == nil {
		return nil
	}
	b, err := e.src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load %s source: %w", e.src.Name(), err)
	}
	if _, err := e.applyBundleLocked(ctx, b); err != nil {
		return fmt.Errorf("apply %s source: %w", e.src.Name(), err)
	}
	return nil
}

// abortInitLocked returns the engine to the uninitialized state after a
// failed Init.
func (e *Engine) abortInitLocked() {
	if e.reconciler != nil {
		e.reconciler.Stop()
		e.reconciler = nil
	}
	_ = e.propagator.Shutdown(context.Background())
	e.state = stateNew
	e.store, e.history, e.propagator, e.violations, e.cache = nil, nil, nil, nil, nil
	e.owned = make(map[string]struct{})
}

// Shutdown stops the source watch and the reconciler, drains the
// propagator and clears the evaluation cache. It is a no-op on an engine
// that is not running.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return nil
	}
	e.state = stateStopped
	cancel, done := e.watchCancel, e.watchDone
	rec, prop, cache := e.reconciler, e.propagator, e.cache
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if rec != nil {
		rec.Stop()
	}
	err := prop.Shutdown(ctx)
	cache.Clear()

	e.logger.Info("policy engine shut down",
		"propagation_success", prop.Success(),
		"propagation_failures", prop.Failures(),
	)
	return err
}

// checkRunningLocked reports ErrNotInitialized unless Init has succeeded
// and Shutdown has not been called.
func (e *Engine) checkRunningLocked() error {
	if e.state != stateRunning {
		return policy.ErrNotInitialized
	}
	return nil
}

// lookup feeds the reconciler with current enabled content.
func (e *Engine) lookup(policyID string) (*policy.Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != stateRunning {
		return nil, false
	}
	p, ok := e.store.Get(policyID)
	if !ok || !p.Enabled {
		return nil, false
	}
	return p, true
}

func (e *Engine) watch(ctx context.Context, w source.Watcher, done chan struct{}) {
	defer close(done)
	err := w.Watch(ctx, func() {
		report, err := e.Reload(ctx)
		switch {
		case errors.Is(err, policy.ErrNotInitialized):
		case err != nil:
			e.logger.Error("policy source reload failed", "error", err)
		default:
			e.logger.Info("policy source reloaded",
				"created", report.Created,
				"updated", report.Updated,
				"deleted", report.Deleted,
			)
		}
	})
	if err != nil {
		e.logger.Error("policy source watch ended", "error", err)
	}
}

// Strategy returns the active conflict resolution strategy.
func (e *Engine) Strategy() policy.ResolutionStrategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolver.Strategy()
}

// Get returns a copy of a stored policy.
func (e *Engine) Get(id string) (*policy.Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, err
	}
	p, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("policy %q: %w", id, policy.ErrNotFound)
	}
	return p, nil
}

// List returns copies of all stored policies in insertion order.
func (e *Engine) List() ([]*policy.Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, err
	}
	return e.store.List(), nil
}

// History returns the snapshots of a policy, oldest first. It fails with
// ErrNotFound when the policy is unknown and has no history.
func (e *Engine) History(policyID string) ([]policy.HistoryEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, err
	}
	entries := e.history.List(policyID)
	if len(entries) == 0 && !e.store.Contains(policyID) {
		return nil, fmt.Errorf("history of policy %q: %w", policyID, policy.ErrNotFound)
	}
	return entries, nil
}

// Bindings returns every service binding sorted by service id.
func (e *Engine) Bindings() ([]policy.ServicePolicyBinding, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, err
	}
	return e.propagator.Bindings(), nil
}

// Binding returns the binding of one service.
func (e *Engine) Binding(serviceID string) (policy.ServicePolicyBinding, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return policy.ServicePolicyBinding{}, err
	}
	return e.propagator.Binding(serviceID)
}

// Reconcile runs one reconciliation pass immediately.
func (e *Engine) Reconcile() (propagation.ReconcileReport, error) {
	e.mu.RLock()
	if err := e.checkRunningLocked(); err != nil {
		e.mu.RUnlock()
		return propagation.ReconcileReport{}, err
	}
	prop, stale := e.propagator, e.cfg.StaleAfter
	e.mu.RUnlock()
	return prop.Reconcile(stale, e.lookup)
}

// Stats returns the engine counters.
func (e *Engine) Stats() (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return Stats{}, err
	}
	st := e.store.Stats()
	return Stats{
		TotalPolicies:        st.TotalPolicies,
		EnabledPolicies:      st.EnabledPolicies,
		TotalRules:           st.TotalRules,
		ActiveRules:          st.ActiveRules,
		EvaluationsPerformed: e.evaluations.Load(),
		PolicyViolations:     e.violationCount.Load(),
		ConflictResolutions:  e.conflictResolutions.Load(),
		PropagationSuccess:   e.propagator.Success(),
		PropagationFailures:  e.propagator.Failures(),
		RollbacksPerformed:   e.rollbacks.Load(),
		CacheEntries:         e.cache.Len(),
	}, nil
}

// Ready reports whether the engine is running.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == stateRunning
}
