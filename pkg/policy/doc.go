// Package policy defines the shared data model of the Bastion security policy
// engine: policies, rules, conditions, scopes, evaluation contexts and
// results, conflicts, violations, version history entries and service
// bindings.
//
// The package holds no behaviour beyond well-formedness validation, cloning
// and the enum conversions used by the codecs. Evaluation, conflict
// resolution, versioning and propagation live in the sub-packages:
//
//   - store: authoritative policy_id to Policy mapping
//   - history: append-only snapshot log and rollback source
//   - evaluator: scope applicability, condition matching and confidence
//   - conflict: pairwise conflict detection and resolution strategies
//   - decision: final verdict assembly
//   - propagation: service bindings and transport hand-off
//   - violation: violation log and remediation dispatch
//   - engine: the lifecycle handle composing all of the above
//
// # Sum types
//
// Scope and Value are tagged unions. The Kind field selects the variant and
// only the payload fields belonging to that variant are meaningful:
//
//	policy.ServiceScope("fs")            // Kind: ScopeService, ID: "fs"
//	policy.IntValue(4)                   // Kind: ValueInt, Int: 4
//	policy.SetValue("admin", "operator") // Kind: ValueSet
//
// # Errors
//
// All engine errors wrap one of the sentinel values declared in errors.go so
// callers can branch with errors.Is.
package policy
