package policy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version identifies a revision of a policy.
type Version struct {
	Major uint32 `json:"major" yaml:"major"`
	Minor uint32 `json:"minor" yaml:"minor"`
	Patch uint32 `json:"patch" yaml:"patch"`
	Build uint32 `json:"build" yaml:"build"`
}

// String renders the version as major.minor.patch+build.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d+%d", v.Major, v.Minor, v.Patch, v.Build)
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	a := [4]uint32{v.Major, v.Minor, v.Patch, v.Build}
	b := [4]uint32{o.Major, o.Minor, o.Patch, o.Build}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// ParseVersion parses "1.2.3" or "1.2.3+4".
func ParseVersion(s string) (Version, error) {
	var v Version
	core, build, hasBuild := strings.Cut(strings.TrimPrefix(strings.TrimSpace(s), "v"), "+")
	parts := strings.Split(core, ".")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return v, fmt.Errorf("invalid version %q", s)
	}
	dst := []*uint32{&v.Major, &v.Minor, &v.Patch}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		*dst[i] = uint32(n)
	}
	if hasBuild {
		n, err := strconv.ParseUint(build, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version build %q: %w", s, err)
		}
		v.Build = uint32(n)
	}
	return v, nil
}

// UnmarshalYAML accepts either the "1.2.3+4" string form or the mapping form.
func (v *Version) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := ParseVersion(node.Value)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}
	type plain Version
	return node.Decode((*plain)(v))
}

// Condition is a single field comparison.
type Condition struct {
	Field         string   `json:"field" yaml:"field"`
	Operator      Operator `json:"operator" yaml:"operator"`
	Value         Value    `json:"value" yaml:"value"`
	CaseSensitive bool     `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
}

// Action is an advisory signal emitted by a matching rule.
type Action struct {
	Kind          ActionKind        `json:"kind" yaml:"kind"`
	Target        ActionTarget      `json:"target,omitempty" yaml:"target,omitempty"`
	Delay         time.Duration     `json:"delay,omitempty" yaml:"delay,omitempty"`
	RetryCount    int               `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	FailurePolicy FailurePolicy     `json:"failure_policy,omitempty" yaml:"failure_policy,omitempty"`
	Parameters    map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// RateLimit is an advisory request rate bound. Stored, not enforced.
type RateLimit struct {
	Requests int           `json:"requests" yaml:"requests"`
	Window   time.Duration `json:"window" yaml:"window"`
	Burst    int           `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// ResourceLimit is an advisory bound on a named resource. Stored, not enforced.
type ResourceLimit struct {
	Resource string  `json:"resource" yaml:"resource"`
	Limit    float64 `json:"limit" yaml:"limit"`
	Unit     string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Rule is a named unit of matching and action.
type Rule struct {
	ID          string   `json:"rule_id" yaml:"rule_id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Priority    Priority `json:"priority" yaml:"priority"`

	// Conditions must all hold for the rule to apply. Empty applies vacuously.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// Actions is the non-empty list of signals emitted on match.
	Actions []Action `json:"actions" yaml:"actions"`

	RateLimit     *RateLimit     `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	ResourceLimit *ResourceLimit `json:"resource_limit,omitempty" yaml:"resource_limit,omitempty"`

	Timeout               time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RetryCount            int           `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	CacheTTL              time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
	EnableAudit           bool          `json:"enable_audit,omitempty" yaml:"enable_audit,omitempty"`
	QuarantineOnViolation bool          `json:"quarantine_on_violation,omitempty" yaml:"quarantine_on_violation,omitempty"`
	IsolationLevel        string        `json:"isolation_level,omitempty" yaml:"isolation_level,omitempty"`
	ResourcePool          string        `json:"resource_pool,omitempty" yaml:"resource_pool,omitempty"`
}

// HasAction reports whether the rule emits an action of the given kind.
func (r *Rule) HasAction(kind ActionKind) bool {
	for _, a := range r.Actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// UnmarshalYAML decodes a rule, defaulting Enabled to true.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	type plain Rule
	p := plain{Enabled: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// UnmarshalJSON decodes a rule, defaulting Enabled to true.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	p := plain{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// Policy is the top-level authored unit.
type Policy struct {
	// ID is unique within the store. Generated on create when empty.
	ID          string            `json:"policy_id" yaml:"policy_id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version     Version           `json:"version" yaml:"version"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Category Category `json:"category" yaml:"category"`
	Priority Priority `json:"priority" yaml:"priority"`
	Scope    Scope    `json:"scope" yaml:"scope"`

	// Conditions gate evaluation of every rule.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Rules      []Rule      `json:"rules" yaml:"rules"`

	EnforcementMode EnforcementMode `json:"enforcement_mode" yaml:"enforcement_mode"`
	Enabled         bool            `json:"enabled" yaml:"enabled"`

	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// Expired reports whether the policy has an expiry at or before now.
func (p *Policy) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// UnmarshalYAML decodes a policy, defaulting Enabled to true and Scope to system.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	type plain Policy
	d := plain{Enabled: true, Scope: SystemScope(), Category: CategorySystem, Priority: PriorityNormal}
	if err := node.Decode(&d); err != nil {
		return err
	}
	*p = Policy(d)
	return nil
}

// UnmarshalJSON decodes a policy, defaulting Enabled to true and Scope to system.
func (p *Policy) UnmarshalJSON(data []byte) error {
	type plain Policy
	d := plain{Enabled: true, Scope: SystemScope(), Category: CategorySystem, Priority: PriorityNormal}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*p = Policy(d)
	return nil
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	out := *p
	out.Tags = cloneStrings(p.Tags)
	out.Metadata = cloneMap(p.Metadata)
	out.Scope = p.Scope.clone()
	out.Conditions = cloneConditions(p.Conditions)
	if p.Rules != nil {
		out.Rules = make([]Rule, len(p.Rules))
		for i := range p.Rules {
			out.Rules[i] = p.Rules[i].Clone()
		}
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	out := r
	out.Conditions = cloneConditions(r.Conditions)
	if r.Actions != nil {
		out.Actions = make([]Action, len(r.Actions))
		for i, a := range r.Actions {
			a.Parameters = cloneMap(a.Parameters)
			out.Actions[i] = a
		}
	}
	if r.RateLimit != nil {
		rl := *r.RateLimit
		out.RateLimit = &rl
	}
	if r.ResourceLimit != nil {
		rl := *r.ResourceLimit
		out.ResourceLimit = &rl
	}
	return out
}

func cloneConditions(in []Condition) []Condition {
	if in == nil {
		return nil
	}
	out := make([]Condition, len(in))
	for i, c := range in {
		c.Value = c.Value.clone()
		out[i] = c
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
