package violation

import (
	"context"
	"log/slog"

	"mercator-hq/bastion/pkg/policy"
)

// Notifier sends a remediation request to whoever carries it out. The
// engine only dispatches; it never terminates or isolates anything itself.
type Notifier interface {
	Notify(ctx context.Context, v policy.Violation) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, v policy.Violation) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, v policy.Violation) error { return f(ctx, v) }

// Dispatcher routes a violation to the handler for its remediation.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil notifier only logs.
func NewDispatcher(n Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifier: n, logger: logger}
}

// Dispatch handles the violation's remediation. An empty remediation is
// treated as log.
func (d *Dispatcher) Dispatch(ctx context.Context, v policy.Violation) {
	attrs := []any{
		"violation_id", v.ID,
		"policy_id", v.PolicyID,
		"violation_type", v.ViolationType,
		"severity", v.Severity.String(),
		"remediation", string(v.Remediation),
	}

	switch v.Remediation {
	case policy.RemediationNone:
		return
	case "", policy.RemediationLog:
		d.logger.InfoContext(ctx, "policy violation", attrs...)
		return
	case policy.RemediationAlert, policy.RemediationNotify:
		d.logger.WarnContext(ctx, "policy violation alert", attrs...)
	case policy.RemediationDeny, policy.RemediationQuarantine, policy.RemediationIsolate:
		d.logger.WarnContext(ctx, "policy violation containment requested", attrs...)
	case policy.RemediationTerminate:
		d.logger.ErrorContext(ctx, "policy violation termination requested", attrs...)
	}
	d.notify(ctx, v)
}

func (d *Dispatcher) notify(ctx context.Context, v policy.Violation) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, v); err != nil {
		d.logger.Error("remediation notification failed",
			"violation_id", v.ID, "remediation", string(v.Remediation), "error", err)
	}
}
