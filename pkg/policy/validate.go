package policy

import "fmt"

// Validate checks a policy for well-formedness. It rejects an empty name,
// zero rules, and rules without a name or actions. Enum fields must hold
// known values and the scope must be well formed.
//
// The first failure is returned; it matches ErrInvalidPolicy or, for scope
// failures, ErrInvalidScope.
func Validate(p *Policy) error {
	if p == nil {
		return &ValidationError{Field: "policy", Message: "policy cannot be nil"}
	}
	invalid := func(field, msg string) error {
		return &ValidationError{PolicyID: p.ID, Field: field, Message: msg}
	}

	if p.Name == "" {
		return invalid("name", "name cannot be empty")
	}
	if len(p.Rules) == 0 {
		return invalid("rules", "policy must have at least one rule")
	}
	if !p.Category.Valid() {
		return invalid("category", fmt.Sprintf("unknown category %q", p.Category))
	}
	if !p.Priority.Valid() {
		return invalid("priority", fmt.Sprintf("unknown priority %d", p.Priority))
	}
	if !p.EnforcementMode.Valid() {
		return invalid("enforcement_mode", fmt.Sprintf("unknown enforcement mode %d", p.EnforcementMode))
	}
	if err := ValidateScope(p.Scope); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.PolicyID = p.ID
		}
		return err
	}
	if err := validateConditions("conditions", p.Conditions); err != nil {
		return invalid(err.field, err.msg)
	}

	for i := range p.Rules {
		r := &p.Rules[i]
		path := fmt.Sprintf("rules[%d]", i)
		if r.Name == "" {
			return invalid(path+".name", "rule name cannot be empty")
		}
		if len(r.Actions) == 0 {
			return invalid(path+".actions", "rule must have at least one action")
		}
		if !r.Priority.Valid() {
			return invalid(path+".priority", fmt.Sprintf("unknown priority %d", r.Priority))
		}
		for j, a := range r.Actions {
			apath := fmt.Sprintf("%s.actions[%d]", path, j)
			if !a.Kind.Valid() {
				return invalid(apath+".kind", fmt.Sprintf("unknown action %q", a.Kind))
			}
			if !a.Target.Valid() {
				return invalid(apath+".target", fmt.Sprintf("unknown target %q", a.Target))
			}
			if !a.FailurePolicy.Valid() {
				return invalid(apath+".failure_policy", fmt.Sprintf("unknown failure policy %q", a.FailurePolicy))
			}
		}
		if err := validateConditions(path+".conditions", r.Conditions); err != nil {
			return invalid(err.field, err.msg)
		}
	}
	return nil
}

type fieldError struct {
	field string
	msg   string
}

func validateConditions(path string, conds []Condition) *fieldError {
	for i, c := range conds {
		cpath := fmt.Sprintf("%s[%d]", path, i)
		if c.Field == "" {
			return &fieldError{cpath + ".field", "condition field cannot be empty"}
		}
		if !c.Operator.Valid() {
			return &fieldError{cpath + ".operator", fmt.Sprintf("unknown operator %q", c.Operator)}
		}
		if c.Operator == OpExists || c.Operator == OpNotExists {
			continue
		}
		if err := c.Value.Validate(); err != nil {
			return &fieldError{cpath + ".value", err.Error()}
		}
	}
	return nil
}
