package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/history"
	"mercator-hq/bastion/pkg/telemetry/tracing"
)

// Create validates and stores a new policy, records its first snapshot and
// hands it to the propagator when enabled. An empty id is replaced by a
// generated one and a zero version becomes 1.0.0. The stored copy is
// returned.
func (e *Engine) Create(ctx context.Context, p *policy.Policy) (*policy.Policy, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Create")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, endSpan(span, err)
	}
	out, err := e.createLocked(ctx, p)
	if out != nil {
		span.SetAttributes(attribute.String(tracing.AttrPolicyID, out.ID))
	}
	return out, endSpan(span, err)
}

func (e *Engine) createLocked(ctx context.Context, in *policy.Policy) (*policy.Policy, error) {
	if in == nil {
		return nil, &policy.ValidationError{Field: "policy", Message: "policy cannot be nil"}
	}
	p := in.Clone()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Version == (policy.Version{}) {
		p.Version = policy.Version{Major: 1}
	}
	if err := policy.Validate(p); err != nil {
		return nil, err
	}
	if e.store.Contains(p.ID) {
		return nil, fmt.Errorf("%w: policy %s already exists", policy.ErrPolicyConflict, p.ID)
	}

	now := e.clock.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	if _, err := e.history.Record(p, history.RecordOptions{
		Changes:   history.Diff(nil, p),
		CreatedBy: ActorFromContext(ctx),
	}); err != nil {
		return nil, &policy.OperationError{Op: "create", PolicyID: p.ID, Err: err}
	}
	if err := e.store.Insert(p); err != nil {
		return nil, err
	}
	if p.Enabled {
		e.propagateLocked(ctx, p)
	}

	e.metrics.PolicyChanged("create")
	e.logger.Info("policy created",
		"policy_id", p.ID,
		"version", p.Version.String(),
		"rules", len(p.Rules),
		"enabled", p.Enabled,
	)
	return p.Clone(), nil
}

// Update replaces the content of an existing policy. When the new content
// does not carry a higher version than the stored one, the stored version
// is kept and its build number incremented. CreatedAt is preserved.
func (e *Engine) Update(ctx context.Context, id string, p *policy.Policy) (*policy.Policy, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Update", trace.WithAttributes(attribute.String(tracing.AttrPolicyID, id)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, endSpan(span, err)
	}
	out, err := e.updateLocked(ctx, id, p)
	return out, endSpan(span, err)
}

func (e *Engine) updateLocked(ctx context.Context, id string, in *policy.Policy) (*policy.Policy, error) {
	if in == nil {
		return nil, &policy.ValidationError{PolicyID: id, Field: "policy", Message: "policy cannot be nil"}
	}
	cur, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("policy %q: %w", id, policy.ErrNotFound)
	}

	next := in.Clone()
	next.ID = id
	if err := policy.Validate(next); err != nil {
		return nil, err
	}
	if next.Version.Compare(cur.Version) <= 0 {
		next.Version = cur.Version
		next.Version.Build++
	}
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = e.clock.Now()

	if err := e.replaceLocked(ctx, cur, next, "update"); err != nil {
		return nil, err
	}
	e.logger.Info("policy updated",
		"policy_id", id,
		"version", next.Version.String(),
		"rules", len(next.Rules),
	)
	return next.Clone(), nil
}

// replaceLocked snapshots next, makes it visible and reconciles the
// bindings with the old and new content.
func (e *Engine) replaceLocked(ctx context.Context, cur, next *policy.Policy, op string) error {
	if _, err := e.history.Record(next, history.RecordOptions{
		Changes:   history.Diff(cur, next),
		CreatedBy: ActorFromContext(ctx),
	}); err != nil {
		return &policy.OperationError{Op: op, PolicyID: next.ID, Err: err}
	}
	if err := e.store.Replace(next.ID, next); err != nil {
		return err
	}

	// Bindings of the previous scope no longer apply.
	if cur.Enabled && (!next.Enabled || !cur.Scope.Equal(next.Scope)) {
		e.propagator.Remove(ctx, next.ID)
	}
	if next.Enabled {
		e.propagateLocked(ctx, next)
	}
	e.metrics.PolicyChanged(op)
	return nil
}

// Delete removes a policy and withdraws it from every binding. Its history
// is kept.
func (e *Engine) Delete(ctx context.Context, id string) error {
	ctx, span := e.tracer.Start(ctx, "engine.Delete", trace.WithAttributes(attribute.String(tracing.AttrPolicyID, id)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRunningLocked(); err != nil {
		return endSpan(span, err)
	}
	return endSpan(span, e.deleteLocked(ctx, id))
}

func (e *Engine) deleteLocked(ctx context.Context, id string) error {
	if _, err := e.store.Delete(id); err != nil {
		return err
	}
	e.propagator.Remove(ctx, id)
	delete(e.owned, id)

	e.metrics.PolicyChanged("delete")
	e.logger.Info("policy deleted", "policy_id", id)
	return nil
}

// SetEnabled flips the enabled flag. Enabling propagates the policy;
// disabling withdraws it. The version and content are unchanged and no
// snapshot is recorded.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool) error {
	ctx, span := e.tracer.Start(ctx, "engine.SetEnabled", trace.WithAttributes(
		attribute.String(tracing.AttrPolicyID, id),
		attribute.Bool(tracing.AttrPolicyEnabled, enabled),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRunningLocked(); err != nil {
		return endSpan(span, err)
	}
	now := e.clock.Now()
	if err := e.store.Modify(id, func(p *policy.Policy) {
		p.Enabled = enabled
		p.UpdatedAt = now
	}); err != nil {
		return endSpan(span, err)
	}

	if enabled {
		p, _ := e.store.Get(id)
		e.propagateLocked(ctx, p)
		e.metrics.PolicyChanged("enable")
	} else {
		e.propagator.Remove(ctx, id)
		e.metrics.PolicyChanged("disable")
	}
	e.logger.Info("policy enabled flag changed", "policy_id", id, "enabled", enabled)
	return nil
}

// CreateVersionSnapshot records the current content of a policy as a
// rollback point. Rollback points survive history eviction.
func (e *Engine) CreateVersionSnapshot(ctx context.Context, id string) (*policy.HistoryEntry, error) {
	_, span := e.tracer.Start(ctx, "engine.CreateVersionSnapshot", trace.WithAttributes(attribute.String(tracing.AttrPolicyID, id)))
	defer span.End()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, endSpan(span, err)
	}
	p, ok := e.store.Get(id)
	if !ok {
		return nil, endSpan(span, fmt.Errorf("policy %q: %w", id, policy.ErrNotFound))
	}
	entry, err := e.history.Record(p, history.RecordOptions{
		CreatedBy:     ActorFromContext(ctx),
		RollbackPoint: true,
	})
	if err != nil {
		return nil, endSpan(span, &policy.OperationError{Op: "snapshot", PolicyID: id, Err: err})
	}
	e.logger.Info("policy snapshot created", "policy_id", id, "history_id", entry.ID)
	return entry, nil
}

// Rollback restores the content recorded in a history entry. The enabled
// flag and CreatedAt of the current policy are kept. A snapshot that can
// no longer be decoded fails with ErrVersionMismatch and leaves the
// current policy untouched.
func (e *Engine) Rollback(ctx context.Context, policyID, historyID string) (*policy.Policy, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Rollback", trace.WithAttributes(
		attribute.String(tracing.AttrPolicyID, policyID),
		attribute.String(tracing.AttrHistoryID, historyID),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, endSpan(span, err)
	}

	cur, ok := e.store.Get(policyID)
	if !ok {
		return nil, endSpan(span, fmt.Errorf("policy %q: %w", policyID, policy.ErrNotFound))
	}
	restored, entry, err := e.history.Restore(policyID, historyID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	restored.Enabled = cur.Enabled
	restored.CreatedAt = cur.CreatedAt
	restored.UpdatedAt = e.clock.Now()
	if err := policy.Validate(restored); err != nil {
		return nil, endSpan(span, fmt.Errorf("%w: snapshot %s: %v", policy.ErrVersionMismatch, historyID, err))
	}

	if err := e.replaceLocked(ctx, cur, restored, "rollback"); err != nil {
		return nil, endSpan(span, err)
	}
	e.rollbacks.Add(1)
	e.metrics.RollbackPerformed()
	e.logger.Info("policy rolled back",
		"policy_id", policyID,
		"history_id", historyID,
		"version", entry.Version.String(),
	)
	return restored.Clone(), nil
}

// propagateLocked hands p to the propagator. Transport problems never fail
// the originating mutation.
func (e *Engine) propagateLocked(ctx context.Context, p *policy.Policy) {
	targets, err := e.propagator.Propagate(ctx, p)
	if err != nil {
		e.logger.Warn("policy propagation not handed off", "policy_id", p.ID, "error", err)
		return
	}
	if len(targets) > 0 {
		e.logger.Debug("policy propagation handed off", "policy_id", p.ID, "targets", targets)
	}
}

// endSpan records err on span and returns it unchanged.
func endSpan(span trace.Span, err error) error {
	tracing.SetError(span, err)
	return err
}
