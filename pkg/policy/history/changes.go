package history

import (
	"reflect"

	"mercator-hq/bastion/pkg/policy"
)

// Diff summarises how next differs from prev. A nil prev yields a change set
// listing every rule of next as added.
func Diff(prev, next *policy.Policy) policy.ChangeSet {
	var cs policy.ChangeSet
	if next == nil {
		return cs
	}
	if prev == nil {
		for i := range next.Rules {
			cs.AddedRules = append(cs.AddedRules, ruleKey(&next.Rules[i]))
		}
		return cs
	}

	before := make(map[string]*policy.Rule, len(prev.Rules))
	for i := range prev.Rules {
		before[ruleKey(&prev.Rules[i])] = &prev.Rules[i]
	}
	seen := make(map[string]bool, len(next.Rules))
	for i := range next.Rules {
		r := &next.Rules[i]
		key := ruleKey(r)
		seen[key] = true
		old, ok := before[key]
		switch {
		case !ok:
			cs.AddedRules = append(cs.AddedRules, key)
		case !reflect.DeepEqual(*old, *r):
			cs.ModifiedRules = append(cs.ModifiedRules, key)
		}
	}
	for i := range prev.Rules {
		if key := ruleKey(&prev.Rules[i]); !seen[key] {
			cs.RemovedRules = append(cs.RemovedRules, key)
		}
	}

	if !prev.Scope.Equal(next.Scope) {
		cs.ScopeChanged = true
		s := prev.Scope
		cs.PreviousScope = &s
	}
	if prev.EnforcementMode != next.EnforcementMode {
		cs.EnforcementChanged = true
		m := prev.EnforcementMode
		cs.PreviousMode = &m
	}
	return cs
}

func ruleKey(r *policy.Rule) string {
	if r.ID != "" {
		return r.ID
	}
	return r.Name
}
