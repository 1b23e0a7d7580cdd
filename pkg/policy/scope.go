package policy

import (
	"fmt"
	"slices"
	"time"
)

// ScopeKind discriminates the Scope union.
type ScopeKind string

const (
	ScopeSystem     ScopeKind = "system"
	ScopeService    ScopeKind = "service"
	ScopeUser       ScopeKind = "user"
	ScopeRole       ScopeKind = "role"
	ScopeNamespace  ScopeKind = "namespace"
	ScopeResource   ScopeKind = "resource"
	ScopeTimeWindow ScopeKind = "time_window"
	ScopeContextual ScopeKind = "contextual"
)

// Scope bounds the contexts a policy may apply to.
type Scope struct {
	// Kind selects the variant.
	Kind ScopeKind `json:"kind" yaml:"kind"`

	// ID is the identifier for service, user, role, namespace and resource scopes.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Window is the interval for time window scopes.
	Window *TimeRange `json:"window,omitempty" yaml:"window,omitempty"`

	// Match holds the required metadata pairs for contextual scopes.
	Match map[string]string `json:"match,omitempty" yaml:"match,omitempty"`
}

// SystemScope returns a scope that admits every context.
func SystemScope() Scope { return Scope{Kind: ScopeSystem} }

// ServiceScope returns a scope bound to a service id.
func ServiceScope(id string) Scope { return Scope{Kind: ScopeService, ID: id} }

// UserScope returns a scope bound to a user id.
func UserScope(id string) Scope { return Scope{Kind: ScopeUser, ID: id} }

// RoleScope returns a scope bound to a role.
func RoleScope(id string) Scope { return Scope{Kind: ScopeRole, ID: id} }

// NamespaceScope returns a scope bound to a namespace.
func NamespaceScope(id string) Scope { return Scope{Kind: ScopeNamespace, ID: id} }

// ResourceScope returns a scope bound to a resource id.
func ResourceScope(id string) Scope { return Scope{Kind: ScopeResource, ID: id} }

// TimeWindowScope returns a scope bound to an inclusive time interval.
func TimeWindowScope(start, end time.Time) Scope {
	return Scope{Kind: ScopeTimeWindow, Window: &TimeRange{Start: start, End: end}}
}

// ContextualScope returns a scope requiring every pair to be present in the
// context metadata.
func ContextualScope(match map[string]string) Scope {
	return Scope{Kind: ScopeContextual, Match: match}
}

// Depth is the refinement depth used by the most-specific resolution
// strategy. System is the least specific scope.
func (s Scope) Depth() int {
	switch s.Kind {
	case ScopeSystem:
		return 0
	case ScopeNamespace, ScopeTimeWindow:
		return 1
	case ScopeService, ScopeRole:
		return 2
	case ScopeUser, ScopeResource:
		return 3
	case ScopeContextual:
		return 1 + len(s.Match)
	}
	return 0
}

// Equal reports whether two scopes describe the same variant and payload.
func (s Scope) Equal(o Scope) bool {
	if s.Kind != o.Kind || s.ID != o.ID {
		return false
	}
	if (s.Window == nil) != (o.Window == nil) {
		return false
	}
	if s.Window != nil && (!s.Window.Start.Equal(o.Window.Start) || !s.Window.End.Equal(o.Window.End)) {
		return false
	}
	if len(s.Match) != len(o.Match) {
		return false
	}
	for k, v := range s.Match {
		if ov, ok := o.Match[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// String returns a compact human-readable form.
func (s Scope) String() string {
	switch s.Kind {
	case ScopeSystem:
		return "system"
	case ScopeTimeWindow:
		if s.Window != nil {
			return fmt.Sprintf("time_window(%s..%s)", s.Window.Start.Format(time.RFC3339), s.Window.End.Format(time.RFC3339))
		}
	case ScopeContextual:
		keys := make([]string, 0, len(s.Match))
		for k := range s.Match {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return fmt.Sprintf("contextual(%v)", keys)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.ID)
}

// ValidateScope checks the payload matches the kind. Failures match ErrInvalidScope.
func ValidateScope(s Scope) error {
	fail := func(msg string) error {
		return &ValidationError{Field: "scope", Message: msg, Kind: ErrInvalidScope}
	}
	switch s.Kind {
	case ScopeSystem:
		return nil
	case ScopeService, ScopeUser, ScopeRole, ScopeNamespace, ScopeResource:
		if s.ID == "" {
			return fail(fmt.Sprintf("%s scope requires an id", s.Kind))
		}
		return nil
	case ScopeTimeWindow:
		if s.Window == nil {
			return fail("time_window scope requires a window")
		}
		if s.Window.End.Before(s.Window.Start) {
			return fail("time_window ends before it starts")
		}
		return nil
	case ScopeContextual:
		return nil
	case "":
		return fail("scope kind is required")
	}
	return fail(fmt.Sprintf("unknown scope kind %q", s.Kind))
}

func (s Scope) clone() Scope {
	out := s
	if s.Window != nil {
		w := *s.Window
		out.Window = &w
	}
	if s.Match != nil {
		out.Match = make(map[string]string, len(s.Match))
		for k, v := range s.Match {
			out.Match[k] = v
		}
	}
	return out
}
