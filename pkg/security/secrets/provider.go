package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no provider holds the requested secret.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets from a backend.
type Provider interface {
	// GetSecret returns the value of the named secret. A missing secret
	// matches ErrNotFound.
	GetSecret(ctx context.Context, name string) (string, error)

	// ListSecrets returns the names of the secrets the provider holds.
	// Values are never listed.
	ListSecrets(ctx context.Context) ([]string, error)

	// Name identifies the provider in logs ("env", "file").
	Name() string

	// Supports reports whether the provider should be asked for name.
	Supports(name string) bool
}

// Refreshable is a Provider that keeps its own copy of secret values and
// can drop it.
type Refreshable interface {
	Provider

	// Refresh discards cached values so the next read hits the backend.
	Refresh(ctx context.Context) error
}
