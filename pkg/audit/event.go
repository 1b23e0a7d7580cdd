package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TypeSecurityPolicyViolation is the event type for recorded violations.
const TypeSecurityPolicyViolation = "SecurityPolicyViolation"

// SourcePolicyManager is the source reported by the policy engine.
const SourcePolicyManager = "policy_manager"

// Level is the audit severity of an event.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Event is one audit record.
type Event struct {
	ID        string            `json:"event_id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Level     Level             `json:"level"`
	Source    string            `json:"source"`
	Target    string            `json:"target"`
	Details   map[string]string `json:"details,omitempty"`
	Result    bool              `json:"result"`
}

// Sink consumes audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, e Event) error
	Close() error
}

// ErrSinkClosed is returned by Emit after Close.
var ErrSinkClosed = errors.New("audit sink closed")

// SinkError wraps a failure inside a sink backend.
type SinkError struct {
	Backend string
	Op      string
	Err     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("audit %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
