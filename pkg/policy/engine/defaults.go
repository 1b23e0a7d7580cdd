package engine

import "mercator-hq/bastion/pkg/policy"

// Ids of the built-in policies loaded by Init.
const (
	SystemSecurityPolicyID = "system-security"
	AccessControlPolicyID  = "access-control"
)

// DefaultPolicies returns fresh copies of the built-in policies.
//
// system-security audits every access to secret and top secret data.
// access-control denies write and delete operations from contexts that
// carry no user id.
func DefaultPolicies() []*policy.Policy {
	return []*policy.Policy{
		{
			ID:          SystemSecurityPolicyID,
			Name:        "System security",
			Description: "Audit access to secret and top secret data.",
			Version:     policy.Version{Major: 1},
			Category:    policy.CategorySystem,
			Priority:    policy.PrioritySystem,
			Scope:       policy.SystemScope(),
			Rules: []policy.Rule{{
				ID:       "audit-classified-access",
				Name:     "Audit classified access",
				Enabled:  true,
				Priority: policy.PrioritySystem,
				Conditions: []policy.Condition{{
					Field:    "security_level",
					Operator: policy.OpGreater,
					Value:    policy.IntValue(int64(policy.SecurityConfidential)),
				}},
				Actions: []policy.Action{
					{Kind: policy.ActionAudit, Target: policy.TargetSystem},
					{Kind: policy.ActionLog, Target: policy.TargetSystem},
				},
				EnableAudit: true,
			}},
			EnforcementMode: policy.EnforcementAudit,
			Enabled:         true,
			Tags:            []string{"builtin"},
		},
		{
			ID:          AccessControlPolicyID,
			Name:        "Access control",
			Description: "Deny anonymous writes and deletes.",
			Version:     policy.Version{Major: 1},
			Category:    policy.CategoryAccess,
			Priority:    policy.PriorityHigh,
			Scope:       policy.SystemScope(),
			Rules: []policy.Rule{{
				ID:       "deny-anonymous-writes",
				Name:     "Deny anonymous writes",
				Enabled:  true,
				Priority: policy.PriorityHigh,
				Conditions: []policy.Condition{
					{Field: "user_id", Operator: policy.OpNotExists},
					{Field: "operation", Operator: policy.OpInSet, Value: policy.SetValue("write", "delete")},
				},
				Actions:     []policy.Action{{Kind: policy.ActionDeny, Target: policy.TargetUser}},
				EnableAudit: true,
			}},
			EnforcementMode: policy.EnforcementHard,
			Enabled:         true,
			Tags:            []string{"builtin"},
		},
	}
}
