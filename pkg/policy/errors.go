package policy

import (
	"errors"
	"fmt"
)

// Error taxonomy exposed to callers. Every error returned by the engine wraps
// exactly one of these.
var (
	// ErrNotFound is the canonical miss signal for store, history and binding lookups.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPolicy indicates a policy failed well-formedness validation.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrPolicyConflict indicates a policy with the same id already exists.
	ErrPolicyConflict = errors.New("policy conflict")

	// ErrEnforcementFailed indicates an enforcement side effect could not be dispatched.
	ErrEnforcementFailed = errors.New("enforcement failed")

	// ErrViolationDetected indicates a policy violation was detected.
	ErrViolationDetected = errors.New("violation detected")

	// ErrVersionMismatch indicates snapshot bytes could not be decoded.
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrPropagationFailed indicates a push to a downstream service failed.
	ErrPropagationFailed = errors.New("propagation failed")

	// ErrEvaluationError indicates a condition could not be evaluated.
	ErrEvaluationError = errors.New("evaluation error")

	// ErrInvalidScope indicates a malformed scope or a history entry owned by another policy.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrAccessDenied indicates the caller is not permitted to perform the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrResourceExhausted indicates a bounded resource such as a queue is full.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrConflictResolutionFailed indicates a conflict could not be resolved.
	ErrConflictResolutionFailed = errors.New("conflict resolution failed")

	// ErrServiceUnavailable indicates a collaborator is unavailable or shut down.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Lifecycle errors. ErrNotInitialized matches ErrNotFound so that an
// uninitialized engine does not leak its lifecycle state.
var (
	ErrNotInitialized     = fmt.Errorf("engine not initialized: %w", ErrNotFound)
	ErrAlreadyInitialized = errors.New("engine already initialized")
)

// ValidationError describes a single well-formedness failure.
type ValidationError struct {
	// PolicyID is the id of the offending policy, if known.
	PolicyID string

	// Field is the dotted path of the offending field (e.g. "rules[1].actions").
	Field string

	// Message describes the failure.
	Message string

	// Kind is the sentinel this error matches (ErrInvalidPolicy or ErrInvalidScope).
	Kind error
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	kind := e.kind()
	if e.PolicyID != "" {
		return fmt.Sprintf("%v: policy %s: %s: %s", kind, e.PolicyID, e.Field, e.Message)
	}
	return fmt.Sprintf("%v: %s: %s", kind, e.Field, e.Message)
}

// Unwrap returns the sentinel this error belongs to.
func (e *ValidationError) Unwrap() error {
	return e.kind()
}

func (e *ValidationError) kind() error {
	if e.Kind == nil {
		return ErrInvalidPolicy
	}
	return e.Kind
}

// OperationError annotates a failure with the engine operation and policy
// it concerns.
type OperationError struct {
	Op       string
	PolicyID string
	Err      error
}

// Error returns the error message.
func (e *OperationError) Error() string {
	if e.PolicyID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.PolicyID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}
