package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on Bastion spans. Custom keys live under "bastion.".
const (
	AttrPolicyID      = "bastion.policy.id"
	AttrPolicyEnabled = "bastion.policy.enabled"
	AttrPolicyVersion = "bastion.policy.version"
	AttrHistoryID     = "bastion.history.id"

	AttrServiceID = "bastion.service_id"
	AttrOperation = "bastion.operation"
	AttrActor     = "bastion.actor"
	AttrRequestID = "bastion.request_id"

	AttrAllowed   = "bastion.allowed"
	AttrMatches   = "bastion.matches"
	AttrConflicts = "bastion.conflicts"
	AttrCacheHit  = "bastion.cache.hit"

	AttrErrorMessage = "error.message"
)

// SetEvaluationAttributes records the outcome of an evaluation on a span.
//
// Example:
//
//	SetEvaluationAttributes(span, res.Allowed, len(res.PolicyMatches), len(res.Conflicts), false)
func SetEvaluationAttributes(span trace.Span, allowed bool, matches, conflicts int, cacheHit bool) {
	span.SetAttributes(
		attribute.Bool(AttrAllowed, allowed),
		attribute.Int(AttrMatches, matches),
		attribute.Int(AttrConflicts, conflicts),
		attribute.Bool(AttrCacheHit, cacheHit),
	)
}

// SetRequestAttributes records admin request identity on a span. Empty values
// are skipped.
func SetRequestAttributes(span trace.Span, requestID, actor string) {
	attrs := make([]attribute.KeyValue, 0, 2)
	if requestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, requestID))
	}
	if actor != "" {
		attrs = append(attrs, attribute.String(AttrActor, actor))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

// AttributeBuilder accumulates span attributes.
type AttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewAttributeBuilder creates an empty builder.
func NewAttributeBuilder() *AttributeBuilder {
	return &AttributeBuilder{attrs: make([]attribute.KeyValue, 0, 4)}
}

// WithPolicy adds the policy id.
func (ab *AttributeBuilder) WithPolicy(policyID string) *AttributeBuilder {
	if policyID != "" {
		ab.attrs = append(ab.attrs, attribute.String(AttrPolicyID, policyID))
	}
	return ab
}

// WithHistory adds the history entry id.
func (ab *AttributeBuilder) WithHistory(historyID string) *AttributeBuilder {
	if historyID != "" {
		ab.attrs = append(ab.attrs, attribute.String(AttrHistoryID, historyID))
	}
	return ab
}

// WithContext adds the service and operation of an evaluation context.
func (ab *AttributeBuilder) WithContext(serviceID, operation string) *AttributeBuilder {
	ab.attrs = append(ab.attrs,
		attribute.String(AttrServiceID, serviceID),
		attribute.String(AttrOperation, operation),
	)
	return ab
}

// WithBool adds a boolean attribute.
func (ab *AttributeBuilder) WithBool(key string, v bool) *AttributeBuilder {
	ab.attrs = append(ab.attrs, attribute.Bool(key, v))
	return ab
}

// Build returns the attributes as a span start option.
func (ab *AttributeBuilder) Build() trace.SpanStartOption {
	return trace.WithAttributes(ab.attrs...)
}

// Attributes returns the accumulated attributes.
func (ab *AttributeBuilder) Attributes() []attribute.KeyValue {
	return ab.attrs
}
