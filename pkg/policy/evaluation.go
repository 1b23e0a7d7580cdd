package policy

import (
	"slices"
	"strconv"
	"time"
)

// EvaluationContext describes the request being evaluated.
type EvaluationContext struct {
	UserID        string            `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	ServiceID     string            `json:"service_id,omitempty" yaml:"service_id,omitempty"`
	ResourceID    string            `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`
	ResourceType  string            `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	Operation     string            `json:"operation,omitempty" yaml:"operation,omitempty"`
	SecurityLevel SecurityLevel     `json:"security_level" yaml:"security_level"`
	Timestamp     time.Time         `json:"timestamp" yaml:"timestamp"`
	Namespace     string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Roles         []string          `json:"roles,omitempty" yaml:"roles,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// HasRole reports whether the context carries role r.
func (c *EvaluationContext) HasRole(r string) bool {
	return slices.Contains(c.Roles, r)
}

// EvaluationResult is the verdict for a single context.
type EvaluationResult struct {
	Allowed            bool             `json:"allowed"`
	PolicyMatches      []PolicyMatch    `json:"policy_matches"`
	Conflicts          []PolicyConflict `json:"conflicts"`
	Violations         []Violation      `json:"violations"`
	EnforcementLevel   EnforcementMode  `json:"enforcement_level"`
	AuditRequired      bool             `json:"audit_required"`
	QuarantineRequired bool             `json:"quarantine_required"`
}

// Clone returns a deep copy suitable for handing to callers from a cache.
func (r *EvaluationResult) Clone() *EvaluationResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.PolicyMatches != nil {
		out.PolicyMatches = make([]PolicyMatch, len(r.PolicyMatches))
		for i, m := range r.PolicyMatches {
			m.RuleMatches = slices.Clone(m.RuleMatches)
			out.PolicyMatches[i] = m
		}
	}
	out.Conflicts = slices.Clone(r.Conflicts)
	out.Violations = slices.Clone(r.Violations)
	return &out
}

// PolicyMatch is a policy that applies to a context with at least one
// fully matched rule.
type PolicyMatch struct {
	PolicyID    string      `json:"policy_id"`
	Priority    Priority    `json:"priority"`
	RuleMatches []RuleMatch `json:"rule_matches"`
	Confidence  float64     `json:"confidence"`

	// Attributes copied from the policy for conflict resolution and assembly.
	Category        Category        `json:"category"`
	EnforcementMode EnforcementMode `json:"enforcement_mode"`
	Scope           Scope           `json:"scope"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Matched returns the rule matches that fully matched.
func (m *PolicyMatch) Matched() []RuleMatch {
	out := make([]RuleMatch, 0, len(m.RuleMatches))
	for _, rm := range m.RuleMatches {
		if rm.Matched {
			out = append(out, rm)
		}
	}
	return out
}

// HasAction reports whether any fully matched rule emits the action.
func (m *PolicyMatch) HasAction(kind ActionKind) bool {
	for _, rm := range m.RuleMatches {
		if rm.Matched && rm.HasAction(kind) {
			return true
		}
	}
	return false
}

// Rule parameter keys carried by RuleMatch.Parameters.
const (
	ParamEnableAudit           = "enable_audit"
	ParamQuarantineOnViolation = "quarantine_on_violation"
	ParamIsolationLevel        = "isolation_level"
	ParamResourcePool          = "resource_pool"
	ParamPriority              = "priority"
	ParamMatchedConditions     = "matched_conditions"
	ParamTotalConditions       = "total_conditions"
)

// RuleMatch records how a single rule fared against a context.
type RuleMatch struct {
	RuleID     string            `json:"rule_id"`
	Category   Category          `json:"category"`
	Matched    bool              `json:"matched"`
	Parameters map[string]string `json:"parameters,omitempty"`

	Actions       []Action       `json:"actions,omitempty"`
	ResourceLimit *ResourceLimit `json:"resource_limit,omitempty"`
}

// HasAction reports whether the rule emits the action.
func (m *RuleMatch) HasAction(kind ActionKind) bool {
	for _, a := range m.Actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// Flag reads a boolean rule parameter.
func (m *RuleMatch) Flag(key string) bool {
	b, _ := strconv.ParseBool(m.Parameters[key])
	return b
}

// PolicyConflict records a conflict between two matches and how it was resolved.
type PolicyConflict struct {
	// PolicyA is the lower-ranked side, PolicyB the higher-ranked side.
	PolicyA    string             `json:"policy_a"`
	PolicyB    string             `json:"policy_b"`
	Type       ConflictType       `json:"conflict_type"`
	Resolution ResolutionStrategy `json:"resolution"`

	// Winner is the policy whose actions prevail.
	Winner  string  `json:"winner,omitempty"`
	Outcome Outcome `json:"outcome"`
}

// Violation is a recorded breach of a policy.
type Violation struct {
	ID            string            `json:"violation_id"`
	PolicyID      string            `json:"policy_id"`
	RuleCategory  Category          `json:"rule_category"`
	ViolationType string            `json:"violation_type"`
	Severity      Priority          `json:"severity"`
	Timestamp     time.Time         `json:"timestamp"`
	SourceContext string            `json:"source_context,omitempty"`
	TargetContext string            `json:"target_context,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	Remediation   Remediation       `json:"remediation"`
}

// ChangeSet summarises what a mutation changed.
type ChangeSet struct {
	AddedRules         []string         `json:"added_rules,omitempty"`
	RemovedRules       []string         `json:"removed_rules,omitempty"`
	ModifiedRules      []string         `json:"modified_rules,omitempty"`
	ScopeChanged       bool             `json:"scope_changed,omitempty"`
	PreviousScope      *Scope           `json:"previous_scope,omitempty"`
	EnforcementChanged bool             `json:"enforcement_changed,omitempty"`
	PreviousMode       *EnforcementMode `json:"previous_mode,omitempty"`
}

// Empty reports whether nothing was recorded.
func (c ChangeSet) Empty() bool {
	return len(c.AddedRules) == 0 && len(c.RemovedRules) == 0 && len(c.ModifiedRules) == 0 &&
		!c.ScopeChanged && !c.EnforcementChanged
}

// HistoryEntry is one snapshot of a policy.
type HistoryEntry struct {
	ID              string    `json:"history_id"`
	PolicyID        string    `json:"policy_id"`
	Version         Version   `json:"version"`
	Snapshot        []byte    `json:"snapshot"`
	Changes         ChangeSet `json:"changes"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	IsRollbackPoint bool      `json:"is_rollback_point"`
}

// ServicePolicyBinding links a service to the policies propagated to it.
type ServicePolicyBinding struct {
	ServiceID  string        `json:"service_id"`
	PolicyIDs  []string      `json:"policy_ids"`
	LastUpdate time.Time     `json:"last_update"`
	Status     BindingStatus `json:"status"`
	ErrorCount int           `json:"error_count"`
}

// Outranks reports whether m orders before o: higher priority first, then
// more recently updated, then lexically smaller id.
func (m *PolicyMatch) Outranks(o *PolicyMatch) bool {
	if m.Priority != o.Priority {
		return m.Priority > o.Priority
	}
	if !m.UpdatedAt.Equal(o.UpdatedAt) {
		return m.UpdatedAt.After(o.UpdatedAt)
	}
	return m.PolicyID < o.PolicyID
}
