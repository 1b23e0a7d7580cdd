package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/decision"
	"mercator-hq/bastion/pkg/telemetry/tracing"
)

// Evaluate evaluates every applicable policy against ectx and returns the
// assembled verdict. A zero timestamp is replaced by the engine clock and
// such contexts share cache entries within the same minute.
// Condition errors count as non-matching conditions and never fail the
// evaluation.
func (e *Engine) Evaluate(ctx context.Context, ectx policy.EvaluationContext) (*policy.EvaluationResult, error) {
	_, span := e.tracer.Start(ctx, "engine.Evaluate", trace.WithAttributes(
		attribute.String(tracing.AttrServiceID, ectx.ServiceID),
		attribute.String(tracing.AttrOperation, ectx.Operation),
	))
	defer span.End()
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkRunningLocked(); err != nil {
		return nil, endSpan(span, err)
	}
	keyed := ectx
	if ectx.Timestamp.IsZero() {
		ectx.Timestamp = e.clock.Now()
		keyed.Timestamp = ectx.Timestamp.Truncate(defaultedTimestampResolution)
	}

	var key string
	if e.cache.Enabled() {
		key = cacheKey(&keyed, e.store.Generation(), e.resolver.Strategy())
		if res, ok := e.cache.Get(key); ok {
			e.evaluations.Add(1)
			tracing.SetEvaluationAttributes(span, res.Allowed, len(res.PolicyMatches), len(res.Conflicts), true)
			e.metrics.EvaluationCompleted(res.Allowed, len(res.PolicyMatches), len(res.Conflicts), true, time.Since(start))
			return res, nil
		}
	}

	var matches []policy.PolicyMatch
	e.store.Range(func(p *policy.Policy) bool {
		if m, ok := e.evaluator.EvaluatePolicy(p, &ectx); ok {
			matches = append(matches, m)
		}
		return true
	})
	conflicts := e.resolver.Resolve(matches)
	res := decision.Assemble(matches, conflicts)

	e.evaluations.Add(1)
	e.conflictResolutions.Add(uint64(len(conflicts)))
	if key != "" {
		e.cache.Put(key, res)
	}

	tracing.SetEvaluationAttributes(span, res.Allowed, len(res.PolicyMatches), len(res.Conflicts), false)
	e.metrics.EvaluationCompleted(res.Allowed, len(res.PolicyMatches), len(res.Conflicts), false, time.Since(start))
	e.logger.Debug("evaluation completed",
		"service_id", ectx.ServiceID,
		"user_id", ectx.UserID,
		"allowed", res.Allowed,
		"matches", len(res.PolicyMatches),
		"conflicts", len(res.Conflicts),
		"enforcement", res.EnforcementLevel.String(),
	)
	return res, nil
}
