package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mercator-hq/bastion/pkg/policy"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: status})
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorMessage(w, statusFor(err), err.Error())
}

// statusFor maps the engine error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, policy.ErrNotInitialized), errors.Is(err, policy.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, policy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, policy.ErrInvalidPolicy), errors.Is(err, policy.ErrInvalidScope):
		return http.StatusBadRequest
	case errors.Is(err, policy.ErrPolicyConflict), errors.Is(err, policy.ErrVersionMismatch),
		errors.Is(err, policy.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, policy.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, policy.ErrResourceExhausted):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body, rejecting unknown fields. Decode
// failures are reported as invalid input.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return &policy.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}
