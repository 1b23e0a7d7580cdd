// Package violation keeps the in-memory violation log, forwards violations
// to the audit sink and dispatches remediation requests.
package violation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/bastion/pkg/audit"
	"mercator-hq/bastion/pkg/clock"
	"mercator-hq/bastion/pkg/policy"
)

// Config configures a Log.
type Config struct {
	// Capacity bounds the log; the oldest entries are dropped first.
	// Zero means unbounded.
	Capacity int

	Sink     audit.Sink
	Notifier Notifier
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Since    *time.Time
	Until    *time.Time
	PolicyID string
}

// Log is the violation log. It is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []policy.Violation
	dropped uint64

	capacity   int
	sink       audit.Sink
	dispatcher *Dispatcher
	clock      clock.Clock
	logger     *slog.Logger
}

// New creates a violation log.
func New(cfg Config) *Log {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger = logger.With("component", "violation")
	return &Log{
		capacity:   cfg.Capacity,
		sink:       cfg.Sink,
		dispatcher: NewDispatcher(cfg.Notifier, logger),
		clock:      clk,
		logger:     logger,
	}
}

// Record appends the violation, forwards it to the audit sink and
// dispatches its remediation. The stored copy is returned with its id and
// timestamp filled in. Sink failures are logged and do not fail the record.
func (l *Log) Record(ctx context.Context, v policy.Violation) (policy.Violation, error) {
	if v.PolicyID == "" {
		return policy.Violation{}, &policy.ValidationError{Field: "policy_id", Message: "violation must reference a policy"}
	}
	if !v.Remediation.Valid() {
		return policy.Violation{}, &policy.ValidationError{PolicyID: v.PolicyID, Field: "remediation", Message: "unknown remediation " + string(v.Remediation)}
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = l.clock.Now()
	}
	v.Details = copyDetails(v.Details)

	l.mu.Lock()
	l.entries = append(l.entries, v)
	if l.capacity > 0 && len(l.entries) > l.capacity {
		over := len(l.entries) - l.capacity
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
		l.dropped += uint64(over)
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Emit(ctx, AuditEvent(v, l.clock.Now())); err != nil {
			l.logger.Error("failed to forward violation to audit sink",
				"violation_id", v.ID, "policy_id", v.PolicyID, "error", err)
		}
	}
	l.dispatcher.Dispatch(ctx, v)

	out := v
	out.Details = copyDetails(v.Details)
	return out, nil
}

// List returns the violations accepted by f in append order.
func (l *Log) List(f Filter) []policy.Violation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]policy.Violation, 0, len(l.entries))
	for _, v := range l.entries {
		if f.PolicyID != "" && v.PolicyID != f.PolicyID {
			continue
		}
		if f.Since != nil && v.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && v.Timestamp.After(*f.Until) {
			continue
		}
		v.Details = copyDetails(v.Details)
		out = append(out, v)
	}
	return out
}

// Len returns the number of retained violations.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Dropped returns how many violations fell out of a bounded log.
func (l *Log) Dropped() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dropped
}

// AuditLevel translates a violation severity into an audit level.
func AuditLevel(severity policy.Priority) audit.Level {
	switch {
	case severity <= policy.PriorityLow:
		return audit.LevelWarning
	case severity == policy.PriorityNormal:
		return audit.LevelError
	default:
		return audit.LevelCritical
	}
}

// AuditEvent builds the audit record for a violation.
func AuditEvent(v policy.Violation, now time.Time) audit.Event {
	details := map[string]string{
		"violation_id":   v.ID,
		"violation_type": v.ViolationType,
		"rule_category":  string(v.RuleCategory),
		"severity":       v.Severity.String(),
		"remediation":    string(v.Remediation),
	}
	if v.SourceContext != "" {
		details["source_context"] = v.SourceContext
	}
	if v.TargetContext != "" {
		details["target_context"] = v.TargetContext
	}
	for k, val := range v.Details {
		if _, taken := details[k]; !taken {
			details[k] = val
		}
	}
	return audit.Event{
		ID:        uuid.New().String(),
		Timestamp: now,
		Type:      audit.TypeSecurityPolicyViolation,
		Level:     AuditLevel(v.Severity),
		Source:    audit.SourcePolicyManager,
		Target:    v.PolicyID,
		Details:   details,
		Result:    false,
	}
}

func copyDetails(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
