package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/bastion/pkg/audit"
	"mercator-hq/bastion/pkg/clock"
	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/codec"
	"mercator-hq/bastion/pkg/policy/conflict"
	"mercator-hq/bastion/pkg/policy/propagation"
	"mercator-hq/bastion/pkg/policy/source"
	"mercator-hq/bastion/pkg/policy/violation"
)

// Metrics receives engine measurements.
type Metrics interface {
	EvaluationCompleted(allowed bool, matches, conflicts int, cached bool, duration time.Duration)
	PolicyChanged(op string)
	PoliciesLoaded(total, enabled int)
	ViolationRecorded(v policy.Violation)
	RollbackPerformed()
}

type nopMetrics struct{}

func (nopMetrics) EvaluationCompleted(bool, int, int, bool, time.Duration) {}
func (nopMetrics) PolicyChanged(string)                                    {}
func (nopMetrics) PoliciesLoaded(int, int)                                 {}
func (nopMetrics) ViolationRecorded(policy.Violation)                      {}
func (nopMetrics) RollbackPerformed()                                      {}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for timestamps, snapshot stamps and cache expiry.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer. Defaults to the global OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithPropagationObserver receives every completed push.
func WithPropagationObserver(o propagation.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithTransport sets the propagation transport. Defaults to propagation.Discard.
func WithTransport(t propagation.Transport) Option {
	return func(e *Engine) {
		if t != nil {
			e.transport = t
		}
	}
}

// WithAuditSink sets the sink receiving violation events.
func WithAuditSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithNotifier sets the receiver of remediation requests.
func WithNotifier(n violation.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithSource sets the configuration store loaded on Init.
func WithSource(s source.Source) Option {
	return func(e *Engine) { e.src = s }
}

// WithCodec sets the snapshot codec. Defaults to codec.JSON.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) {
		if c != nil {
			e.codec = c
		}
	}
}

// WithChoiceFunc supplies the chooser consulted by the user-choice strategy.
func WithChoiceFunc(fn conflict.ChoiceFunc) Option {
	return func(e *Engine) { e.choice = fn }
}

type actorKey struct{}

// DefaultActor is recorded as the author of snapshots when the context
// names none.
const DefaultActor = "system"

// WithActor returns a context whose mutations are attributed to actor in
// the version history.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or DefaultActor.
func ActorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return DefaultActor
}

func defaultTracer() trace.Tracer {
	return otel.Tracer("mercator-hq/bastion/engine")
}
