// Package decision assembles the final verdict from resolved matches.
package decision

import (
	"sort"

	"mercator-hq/bastion/pkg/policy"
)

// Assemble builds the evaluation result for matches and their resolved
// conflicts. Matches are ordered by priority, then recency, then id.
//
// The verdict starts as allowed. It becomes denied when the top-ranked match
// carries a deny action, or when a conflict resolved with a deny outcome
// either involves the top-ranked match or was resolved by deny-all.
//
// Violations are left empty; they are attached by the caller that recorded them.
func Assemble(matches []policy.PolicyMatch, conflicts []policy.PolicyConflict) *policy.EvaluationResult {
	sorted := make([]policy.PolicyMatch, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Outranks(&sorted[j]) })

	result := &policy.EvaluationResult{
		Allowed:          true,
		PolicyMatches:    sorted,
		Conflicts:        conflicts,
		Violations:       []policy.Violation{},
		EnforcementLevel: policy.EnforcementDisabled,
	}
	if result.Conflicts == nil {
		result.Conflicts = []policy.PolicyConflict{}
	}
	if len(sorted) == 0 {
		return result
	}

	for i := range sorted {
		m := &sorted[i]
		if m.EnforcementMode > result.EnforcementLevel {
			result.EnforcementLevel = m.EnforcementMode
		}
		for _, rm := range m.RuleMatches {
			if !rm.Matched {
				continue
			}
			if rm.Flag(policy.ParamEnableAudit) {
				result.AuditRequired = true
			}
			if rm.Flag(policy.ParamQuarantineOnViolation) || rm.HasAction(policy.ActionQuarantine) {
				result.QuarantineRequired = true
			}
		}
	}
	if result.EnforcementLevel >= policy.EnforcementAudit {
		result.AuditRequired = true
	}

	top := &sorted[0]
	if top.HasAction(policy.ActionDeny) {
		result.Allowed = false
	}
	for _, c := range result.Conflicts {
		if c.Outcome != policy.OutcomeDeny {
			continue
		}
		if c.Resolution == policy.StrategyDenyAll || c.PolicyA == top.PolicyID || c.PolicyB == top.PolicyID {
			result.Allowed = false
			break
		}
	}
	return result
}
