package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Priority orders policies and rules. Higher values win.
type Priority int

const (
	PriorityLowest Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PrioritySystem
)

var priorityNames = []string{"lowest", "low", "normal", "high", "critical", "system"}

// String returns the lower-case name of the priority.
func (p Priority) String() string { return enumName(priorityNames, int(p)) }

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return int(p) >= 0 && int(p) < len(priorityNames) }

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return marshalEnum("priority", priorityNames, int(p))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := parseEnum("priority", priorityNames, string(b))
	if err != nil {
		return err
	}
	*p = Priority(v)
	return nil
}

// ParsePriority parses a priority name.
func ParsePriority(s string) (Priority, error) {
	var p Priority
	err := p.UnmarshalText([]byte(s))
	return p, err
}

// EnforcementMode is the severity applied when a policy matches. Aggregated
// across matches by maximum.
type EnforcementMode int

const (
	EnforcementDisabled EnforcementMode = iota
	EnforcementAudit
	EnforcementSoft
	EnforcementHard
	EnforcementStrict
	EnforcementEmergency
)

var enforcementNames = []string{"disabled", "audit", "soft", "hard", "strict", "emergency"}

// String returns the lower-case name of the mode.
func (m EnforcementMode) String() string { return enumName(enforcementNames, int(m)) }

// Valid reports whether m is a known mode.
func (m EnforcementMode) Valid() bool { return int(m) >= 0 && int(m) < len(enforcementNames) }

// MarshalText implements encoding.TextMarshaler.
func (m EnforcementMode) MarshalText() ([]byte, error) {
	return marshalEnum("enforcement mode", enforcementNames, int(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *EnforcementMode) UnmarshalText(b []byte) error {
	v, err := parseEnum("enforcement mode", enforcementNames, string(b))
	if err != nil {
		return err
	}
	*m = EnforcementMode(v)
	return nil
}

// SecurityLevel is the sensitivity of a request. Conditions see it through
// its numeric rank so that ordered comparisons work ("security_level < 4").
type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota
	SecurityLow
	SecurityMedium
	SecurityHigh
	SecurityConfidential
	SecuritySecret
	SecurityTopSecret
)

var securityLevelNames = []string{"public", "low", "medium", "high", "confidential", "secret", "top_secret"}

// String returns the lower-case name of the level.
func (l SecurityLevel) String() string { return enumName(securityLevelNames, int(l)) }

// FieldValue returns the form used by condition matching.
func (l SecurityLevel) FieldValue() string { return strconv.Itoa(int(l)) }

// MarshalText implements encoding.TextMarshaler.
func (l SecurityLevel) MarshalText() ([]byte, error) {
	return marshalEnum("security level", securityLevelNames, int(l))
}

// UnmarshalText accepts either the level name or its numeric rank.
func (l *SecurityLevel) UnmarshalText(b []byte) error {
	s := string(b)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(securityLevelNames) {
			return fmt.Errorf("unknown security level %d", n)
		}
		*l = SecurityLevel(n)
		return nil
	}
	v, err := parseEnum("security level", securityLevelNames, s)
	if err != nil {
		return err
	}
	*l = SecurityLevel(v)
	return nil
}

func enumName(names []string, v int) string {
	if v < 0 || v >= len(names) {
		return "unknown(" + strconv.Itoa(v) + ")"
	}
	return names[v]
}

func marshalEnum(kind string, names []string, v int) ([]byte, error) {
	if v < 0 || v >= len(names) {
		return nil, fmt.Errorf("unknown %s %d", kind, v)
	}
	return []byte(names[v]), nil
}

func parseEnum(kind string, names []string, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	for i, name := range names {
		if name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, s)
}

// Category classifies a policy.
type Category string

const (
	CategoryAccess     Category = "access"
	CategoryProcess    Category = "process"
	CategoryNetwork    Category = "network"
	CategoryData       Category = "data"
	CategorySystem     Category = "system"
	CategoryUser       Category = "user"
	CategoryResource   Category = "resource"
	CategoryCompliance Category = "compliance"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAccess, CategoryProcess, CategoryNetwork, CategoryData,
		CategorySystem, CategoryUser, CategoryResource, CategoryCompliance:
		return true
	}
	return false
}

// ActionKind is the advisory signal a rule emits when it matches.
type ActionKind string

const (
	ActionAllow       ActionKind = "allow"
	ActionDeny        ActionKind = "deny"
	ActionLog         ActionKind = "log"
	ActionAudit       ActionKind = "audit"
	ActionAlert       ActionKind = "alert"
	ActionThrottle    ActionKind = "throttle"
	ActionQuarantine  ActionKind = "quarantine"
	ActionTerminate   ActionKind = "terminate"
	ActionRedirect    ActionKind = "redirect"
	ActionModify      ActionKind = "modify"
	ActionIsolate     ActionKind = "isolate"
	ActionNotify      ActionKind = "notify"
	ActionRollback    ActionKind = "rollback"
	ActionFailover    ActionKind = "failover"
	ActionScale       ActionKind = "scale"
	ActionLoadBalance ActionKind = "load-balance"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionAllow, ActionDeny, ActionLog, ActionAudit, ActionAlert, ActionThrottle,
		ActionQuarantine, ActionTerminate, ActionRedirect, ActionModify, ActionIsolate,
		ActionNotify, ActionRollback, ActionFailover, ActionScale, ActionLoadBalance:
		return true
	}
	return false
}

// Restrictive reports whether the action limits the subject without denying it outright.
func (k ActionKind) Restrictive() bool {
	switch k {
	case ActionQuarantine, ActionIsolate, ActionTerminate, ActionThrottle:
		return true
	}
	return false
}

// ActionTarget is the subject an action applies to.
type ActionTarget string

const (
	TargetSelf    ActionTarget = "self"
	TargetSource  ActionTarget = "source"
	TargetTarget  ActionTarget = "target"
	TargetService ActionTarget = "service"
	TargetUser    ActionTarget = "user"
	TargetSystem  ActionTarget = "system"
	TargetNetwork ActionTarget = "network"
	TargetStorage ActionTarget = "storage"
)

// Valid reports whether t is a known target. The empty target means self.
func (t ActionTarget) Valid() bool {
	switch t {
	case "", TargetSelf, TargetSource, TargetTarget, TargetService,
		TargetUser, TargetSystem, TargetNetwork, TargetStorage:
		return true
	}
	return false
}

// FailurePolicy tells a downstream executor what to do when an action fails.
type FailurePolicy string

const (
	FailureContinue FailurePolicy = "continue"
	FailureRetry    FailurePolicy = "retry"
	FailureFallback FailurePolicy = "fallback"
	FailureAbort    FailurePolicy = "abort"
	FailureEscalate FailurePolicy = "escalate"
)

// Valid reports whether f is a known failure policy. Empty means continue.
func (f FailurePolicy) Valid() bool {
	switch f {
	case "", FailureContinue, FailureRetry, FailureFallback, FailureAbort, FailureEscalate:
		return true
	}
	return false
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "not_equals"
	OpGreater    Operator = "greater_than"
	OpLess       Operator = "less_than"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "regex_match"
	OpInSet      Operator = "in_set"
	OpNotInSet   Operator = "not_in_set"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"
)

// operatorAliases maps symbolic and hyphenated spellings to operators.
var operatorAliases = map[string]Operator{
	"==": OpEquals, "!=": OpNotEquals, ">": OpGreater, "<": OpLess,
	"not-equals": OpNotEquals, "greater-than": OpGreater, "less-than": OpLess,
	"starts-with": OpStartsWith, "ends-with": OpEndsWith, "regex-match": OpRegex,
	"regex": OpRegex, "matches": OpRegex, "in": OpInSet, "in-set": OpInSet,
	"not_in": OpNotInSet, "not-in-set": OpNotInSet, "not-exists": OpNotExists,
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreater, OpLess, OpContains, OpStartsWith,
		OpEndsWith, OpRegex, OpInSet, OpNotInSet, OpExists, OpNotExists:
		return true
	}
	return false
}

// UnmarshalText accepts canonical names as well as the aliases above.
func (o *Operator) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	if alias, ok := operatorAliases[s]; ok {
		*o = alias
		return nil
	}
	*o = Operator(s)
	return nil
}

// ConflictType classifies a conflict between two matches.
type ConflictType string

const (
	ConflictAllowDeny  ConflictType = "allow-deny"
	ConflictPriority   ConflictType = "priority"
	ConflictScope      ConflictType = "scope"
	ConflictTime       ConflictType = "time"
	ConflictResource   ConflictType = "resource"
	ConflictCapability ConflictType = "capability"
)

// ResolutionStrategy selects how a conflict is resolved.
type ResolutionStrategy string

const (
	StrategyHighestPriority ResolutionStrategy = "highest_priority"
	StrategyDenyAll         ResolutionStrategy = "deny_all"
	StrategyAllowAll        ResolutionStrategy = "allow_all"
	StrategyMostSpecific    ResolutionStrategy = "most_specific"
	StrategyMostRecent      ResolutionStrategy = "most_recent"
	StrategyUserChoice      ResolutionStrategy = "user_choice"
	StrategySystemDefault   ResolutionStrategy = "system_default"
)

// Valid reports whether s is a known strategy.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case StrategyHighestPriority, StrategyDenyAll, StrategyAllowAll, StrategyMostSpecific,
		StrategyMostRecent, StrategyUserChoice, StrategySystemDefault:
		return true
	}
	return false
}

// Outcome is the effect a resolved conflict has on the verdict.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
	OutcomeNone  Outcome = "none"
)

// BindingStatus is the propagation state of a service binding.
type BindingStatus string

const (
	BindingPending    BindingStatus = "pending"
	BindingInProgress BindingStatus = "in-progress"
	BindingSuccess    BindingStatus = "success"
	BindingFailed     BindingStatus = "failed"
	BindingTimeout    BindingStatus = "timeout"
	BindingDisabled   BindingStatus = "disabled"
)

// Remediation is the side-effect class requested for a violation.
type Remediation string

const (
	RemediationLog        Remediation = "log"
	RemediationAlert      Remediation = "alert"
	RemediationDeny       Remediation = "deny"
	RemediationQuarantine Remediation = "quarantine"
	RemediationTerminate  Remediation = "terminate"
	RemediationIsolate    Remediation = "isolate"
	RemediationNotify     Remediation = "notify"
	RemediationNone       Remediation = "none"
)

// Valid reports whether r is a known remediation. Empty means none.
func (r Remediation) Valid() bool {
	switch r {
	case "", RemediationLog, RemediationAlert, RemediationDeny, RemediationQuarantine,
		RemediationTerminate, RemediationIsolate, RemediationNotify, RemediationNone:
		return true
	}
	return false
}
