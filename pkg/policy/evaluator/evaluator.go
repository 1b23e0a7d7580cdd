// Package evaluator decides which policies apply to an evaluation context
// and how well their rules match.
//
// A policy applies when its scope admits the context, its top-level
// conditions hold and at least one of its enabled rules fully matches.
// Rules that satisfy only some of their conditions contribute a fractional
// score to the policy confidence but are not counted as matched.
//
// Condition errors, such as an invalid regular expression or a non-numeric
// field under a numeric operator, make the condition false. They never
// surface as evaluation errors.
package evaluator

import (
	"log/slog"
	"strconv"

	"mercator-hq/bastion/pkg/policy"
)

// Evaluator evaluates policies against contexts. It is safe for concurrent use.
type Evaluator struct {
	logger  *slog.Logger
	regexes *regexCache
}

// New creates an evaluator. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		logger:  logger.With("component", "evaluator"),
		regexes: newRegexCache(),
	}
}

// Candidate reports whether p should be considered for ctx at all: it must
// be enabled, unexpired at the context timestamp and admitted by its scope.
func Candidate(p *policy.Policy, ctx *policy.EvaluationContext) bool {
	if !p.Enabled || p.Expired(ctx.Timestamp) {
		return false
	}
	return ScopeAdmits(p.Scope, ctx)
}

// ScopeAdmits reports whether scope s admits the context.
func ScopeAdmits(s policy.Scope, ctx *policy.EvaluationContext) bool {
	switch s.Kind {
	case policy.ScopeSystem:
		return true
	case policy.ScopeService:
		return ctx.ServiceID == s.ID
	case policy.ScopeUser:
		return ctx.UserID == s.ID
	case policy.ScopeRole:
		return ctx.HasRole(s.ID)
	case policy.ScopeNamespace:
		return ctx.Namespace == s.ID
	case policy.ScopeResource:
		return ctx.ResourceID == s.ID
	case policy.ScopeTimeWindow:
		return s.Window != nil && s.Window.Contains(ctx.Timestamp)
	case policy.ScopeContextual:
		for k, v := range s.Match {
			got, ok := ctx.Metadata[k]
			if !ok || got != v {
				return false
			}
		}
		return true
	}
	return false
}

// EvaluatePolicy evaluates a single policy. The returned boolean reports
// whether the policy applies; the match is only meaningful when it does.
func (e *Evaluator) EvaluatePolicy(p *policy.Policy, ctx *policy.EvaluationContext) (policy.PolicyMatch, bool) {
	if !Candidate(p, ctx) {
		return policy.PolicyMatch{}, false
	}

	if matched, _ := e.countMatches(p.ID, "", p.Conditions, ctx); matched != len(p.Conditions) {
		return policy.PolicyMatch{}, false
	}

	match := policy.PolicyMatch{
		PolicyID:        p.ID,
		Priority:        p.Priority,
		Category:        p.Category,
		EnforcementMode: p.EnforcementMode,
		Scope:           p.Scope,
		UpdatedAt:       p.UpdatedAt,
	}

	var (
		fullMatches int
		scoreSum    float64
		scored      int
	)
	for i := range p.Rules {
		r := &p.Rules[i]
		if !r.Enabled {
			continue
		}
		matched, total := e.countMatches(p.ID, r.ID, r.Conditions, ctx)
		if total > 0 && matched == 0 {
			continue
		}

		full := matched == total
		score := 1.0
		if !full {
			score = float64(matched) / float64(total)
		} else {
			fullMatches++
		}
		scoreSum += score
		scored++

		match.RuleMatches = append(match.RuleMatches, ruleMatch(p, r, full, matched, total))
	}

	if fullMatches == 0 {
		return policy.PolicyMatch{}, false
	}
	match.Confidence = scoreSum / float64(scored)
	return match, true
}

// Evaluate evaluates every policy and returns the matches in input order.
func (e *Evaluator) Evaluate(policies []*policy.Policy, ctx *policy.EvaluationContext) []policy.PolicyMatch {
	var matches []policy.PolicyMatch
	for _, p := range policies {
		if m, ok := e.EvaluatePolicy(p, ctx); ok {
			matches = append(matches, m)
		}
	}
	return matches
}

// EvaluateCondition evaluates a single condition. Errors are returned for
// inspection; callers treat them as a failed condition.
func (e *Evaluator) EvaluateCondition(c policy.Condition, ctx *policy.EvaluationContext) (bool, error) {
	actual, present := lookupField(ctx, c.Field)
	return e.evaluateOperator(c, actual, present)
}

// countMatches returns how many of conds hold and how many there are.
func (e *Evaluator) countMatches(policyID, ruleID string, conds []policy.Condition, ctx *policy.EvaluationContext) (int, int) {
	matched := 0
	for _, c := range conds {
		ok, err := e.EvaluateCondition(c, ctx)
		if err != nil {
			e.logger.Debug("condition evaluation failed",
				"policy_id", policyID,
				"rule_id", ruleID,
				"field", c.Field,
				"operator", c.Operator,
				"error", err,
			)
			continue
		}
		if ok {
			matched++
		}
	}
	return matched, len(conds)
}

func ruleMatch(p *policy.Policy, r *policy.Rule, full bool, matched, total int) policy.RuleMatch {
	params := map[string]string{
		policy.ParamEnableAudit:           strconv.FormatBool(r.EnableAudit),
		policy.ParamQuarantineOnViolation: strconv.FormatBool(r.QuarantineOnViolation),
		policy.ParamPriority:              r.Priority.String(),
		policy.ParamMatchedConditions:     strconv.Itoa(matched),
		policy.ParamTotalConditions:       strconv.Itoa(total),
	}
	if r.IsolationLevel != "" {
		params[policy.ParamIsolationLevel] = r.IsolationLevel
	}
	if r.ResourcePool != "" {
		params[policy.ParamResourcePool] = r.ResourcePool
	}

	rm := policy.RuleMatch{
		RuleID:     r.ID,
		Category:   p.Category,
		Matched:    full,
		Parameters: params,
		Actions:    r.Clone().Actions,
	}
	if r.ResourceLimit != nil {
		rl := *r.ResourceLimit
		rm.ResourceLimit = &rl
	}
	return rm
}
