// Package conflict finds and resolves conflicts between policies that match
// the same evaluation context.
//
// Detection considers every pair of matches once and classifies it by the
// first rule that applies:
//
//   - allow-deny: one side allows, the other denies.
//   - capability: one side allows, the other restricts through quarantine,
//     isolate, terminate or throttle without denying.
//   - resource: both sides bound the same resource with different limits.
//   - priority: same priority and category but different enforcement modes.
//
// Scope and time conflicts are part of the vocabulary but are not detected:
// both matches already admitted the same context, so their scopes overlap.
//
// Conflicts are informational. They never short-circuit evaluation; the
// decision assembler folds their outcomes into the verdict.
package conflict

import (
	"fmt"
	"log/slog"
	"sort"

	"mercator-hq/bastion/pkg/policy"
)

// ChoiceFunc picks the winner of a conflict for the user-choice strategy.
// It returns the winning policy id and false when it declines to choose.
type ChoiceFunc func(a, b *policy.PolicyMatch, t policy.ConflictType) (string, bool)

// Resolver detects and resolves conflicts. It is safe for concurrent use.
type Resolver struct {
	strategy policy.ResolutionStrategy
	choose   ChoiceFunc
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithChoiceFunc installs the external chooser consulted by the user-choice strategy.
func WithChoiceFunc(fn ChoiceFunc) Option {
	return func(r *Resolver) { r.choose = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a resolver for strategy. An empty strategy means highest priority.
func New(strategy policy.ResolutionStrategy, opts ...Option) (*Resolver, error) {
	if strategy == "" {
		strategy = policy.StrategyHighestPriority
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown resolution strategy %q", policy.ErrConflictResolutionFailed, strategy)
	}
	r := &Resolver{strategy: strategy, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "conflict")
	return r, nil
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() policy.ResolutionStrategy {
	return r.strategy
}

// Resolve detects conflicts among matches and resolves each one. Records are
// ordered by the rank of their higher side, then of their lower side.
func (r *Resolver) Resolve(matches []policy.PolicyMatch) []policy.PolicyConflict {
	if len(matches) < 2 {
		return nil
	}
	ranked := make([]*policy.PolicyMatch, len(matches))
	for i := range matches {
		ranked[i] = &matches[i]
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Outranks(ranked[j]) })

	var out []policy.PolicyConflict
	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			high, low := ranked[i], ranked[j]
			t, ok := Detect(low, high)
			if !ok {
				continue
			}
			c := r.resolve(low, high, t)
			r.logger.Debug("conflict resolved",
				"policy_a", c.PolicyA,
				"policy_b", c.PolicyB,
				"type", c.Type,
				"resolution", c.Resolution,
				"winner", c.Winner,
				"outcome", c.Outcome,
			)
			out = append(out, c)
		}
	}
	return out
}

// Detect classifies the conflict between two matches, if any.
func Detect(a, b *policy.PolicyMatch) (policy.ConflictType, bool) {
	allowA, allowB := a.HasAction(policy.ActionAllow), b.HasAction(policy.ActionAllow)
	denyA, denyB := a.HasAction(policy.ActionDeny), b.HasAction(policy.ActionDeny)

	switch {
	case (allowA && denyB) || (denyA && allowB):
		return policy.ConflictAllowDeny, true
	case (allowA && restricts(b)) || (restricts(a) && allowB):
		return policy.ConflictCapability, true
	case resourceClash(a, b):
		return policy.ConflictResource, true
	case a.Priority == b.Priority && a.Category == b.Category && a.EnforcementMode != b.EnforcementMode:
		return policy.ConflictPriority, true
	}
	return "", false
}

// resolve applies the strategy to a conflict between low and high, where
// high outranks low.
func (r *Resolver) resolve(low, high *policy.PolicyMatch, t policy.ConflictType) policy.PolicyConflict {
	c := policy.PolicyConflict{
		PolicyA:    low.PolicyID,
		PolicyB:    high.PolicyID,
		Type:       t,
		Resolution: r.strategy,
	}

	var winner *policy.PolicyMatch
	switch r.strategy {
	case policy.StrategyHighestPriority:
		winner = high

	case policy.StrategyMostSpecific:
		winner = high
		if low.Scope.Depth() > high.Scope.Depth() {
			winner = low
		}

	case policy.StrategyMostRecent:
		winner = high
		if low.UpdatedAt.After(high.UpdatedAt) {
			winner = low
		}

	case policy.StrategyDenyAll:
		c.Winner = restrictiveSide(low, high, t).PolicyID
		c.Outcome = policy.OutcomeDeny
		return c

	case policy.StrategyAllowAll:
		if low.HasAction(policy.ActionAllow) && !high.HasAction(policy.ActionAllow) {
			c.Winner = low.PolicyID
		} else {
			c.Winner = high.PolicyID
		}
		c.Outcome = policy.OutcomeAllow
		return c

	case policy.StrategyUserChoice:
		if r.choose != nil {
			if id, ok := r.choose(low, high, t); ok && (id == low.PolicyID || id == high.PolicyID) {
				winner = high
				if id == low.PolicyID {
					winner = low
				}
				break
			}
		}
		c.Resolution = policy.StrategySystemDefault
		winner = restrictiveSide(low, high, t)

	case policy.StrategySystemDefault:
		winner = restrictiveSide(low, high, t)
	}

	c.Winner = winner.PolicyID
	c.Outcome = sideOutcome(winner)
	return c
}

// restrictiveSide picks the side a fail-closed resolution favours.
func restrictiveSide(low, high *policy.PolicyMatch, t policy.ConflictType) *policy.PolicyMatch {
	switch t {
	case policy.ConflictAllowDeny:
		if low.HasAction(policy.ActionDeny) && !high.HasAction(policy.ActionDeny) {
			return low
		}
	case policy.ConflictCapability:
		if restricts(low) && !restricts(high) {
			return low
		}
	case policy.ConflictResource:
		if lowestLimit(low) < lowestLimit(high) {
			return low
		}
	case policy.ConflictPriority:
		if low.EnforcementMode > high.EnforcementMode {
			return low
		}
	}
	return high
}

func sideOutcome(m *policy.PolicyMatch) policy.Outcome {
	switch {
	case m.HasAction(policy.ActionDeny):
		return policy.OutcomeDeny
	case m.HasAction(policy.ActionAllow):
		return policy.OutcomeAllow
	}
	return policy.OutcomeNone
}

func restricts(m *policy.PolicyMatch) bool {
	for _, rm := range m.RuleMatches {
		if !rm.Matched {
			continue
		}
		for _, a := range rm.Actions {
			if a.Kind.Restrictive() {
				return true
			}
		}
	}
	return false
}

// resourceClash reports whether both matches bound a common resource with
// different limits.
func resourceClash(a, b *policy.PolicyMatch) bool {
	limits := make(map[string]float64)
	for _, rm := range a.Matched() {
		if rm.ResourceLimit != nil {
			limits[rm.ResourceLimit.Resource] = rm.ResourceLimit.Limit
		}
	}
	for _, rm := range b.Matched() {
		if rm.ResourceLimit == nil {
			continue
		}
		if limit, ok := limits[rm.ResourceLimit.Resource]; ok && limit != rm.ResourceLimit.Limit {
			return true
		}
	}
	return false
}

func lowestLimit(m *policy.PolicyMatch) float64 {
	lowest := 0.0
	found := false
	for _, rm := range m.Matched() {
		if rm.ResourceLimit != nil && (!found || rm.ResourceLimit.Limit < lowest) {
			lowest = rm.ResourceLimit.Limit
			found = true
		}
	}
	return lowest
}
