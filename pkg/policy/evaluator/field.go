package evaluator

import "mercator-hq/bastion/pkg/policy"

// Directly addressable context fields. Any other field name is looked up in
// the context metadata.
const (
	FieldUserID        = "user_id"
	FieldServiceID     = "service_id"
	FieldResourceType  = "resource_type"
	FieldOperation     = "operation"
	FieldSecurityLevel = "security_level"
)

// lookupField resolves a condition field against the context. The boolean
// reports presence: direct string fields are present when non-empty, the
// security level is always present and metadata keys are present when set.
// Absent fields resolve to the empty string.
func lookupField(ctx *policy.EvaluationContext, field string) (string, bool) {
	switch field {
	case FieldUserID:
		return ctx.UserID, ctx.UserID != ""
	case FieldServiceID:
		return ctx.ServiceID, ctx.ServiceID != ""
	case FieldResourceType:
		return ctx.ResourceType, ctx.ResourceType != ""
	case FieldOperation:
		return ctx.Operation, ctx.Operation != ""
	case FieldSecurityLevel:
		return ctx.SecurityLevel.FieldValue(), true
	}
	v, ok := ctx.Metadata[field]
	return v, ok
}
