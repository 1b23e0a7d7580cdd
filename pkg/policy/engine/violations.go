package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/violation"
	"mercator-hq/bastion/pkg/telemetry/tracing"
)

// RecordViolation appends a violation to the log, forwards it to the audit
// sink and dispatches its remediation.
func (e *Engine) RecordViolation(ctx context.Context, v policy.Violation) (policy.Violation, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RecordViolation", trace.WithAttributes(
		attribute.String(tracing.AttrPolicyID, v.PolicyID),
		attribute.String("bastion.remediation", string(v.Remediation)),
	))
	defer span.End()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return policy.Violation{}, endSpan(span, err)
	}
	stored, err := e.violations.Record(ctx, v)
	if err != nil {
		return policy.Violation{}, endSpan(span, err)
	}
	e.violationCount.Add(1)
	e.metrics.ViolationRecorded(stored)
	return stored, nil
}

// RecordViolationForResult records v and attaches the stored violation to
// res, for callers that detect a violation while acting on an evaluation.
func (e *Engine) RecordViolationForResult(ctx context.Context, res *policy.EvaluationResult, v policy.Violation) (policy.Violation, error) {
	stored, err := e.RecordViolation(ctx, v)
	if err != nil {
		return stored, err
	}
	if res != nil {
		res.Violations = append(res.Violations, stored)
	}
	return stored, nil
}

// ListViolations returns the recorded violations accepted by f in the
// order they were recorded.
func (e *Engine) ListViolations(f violation.Filter) ([]policy.Violation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, err
	}
	return e.violations.List(f), nil
}
