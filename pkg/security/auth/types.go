package auth

import (
	"context"
	"errors"
)

var (
	// ErrMissingKey is returned when a request carries no API key.
	ErrMissingKey = errors.New("missing API key")

	// ErrInvalidKey is returned for keys that are not configured.
	ErrInvalidKey = errors.New("invalid API key")

	// ErrKeyDisabled is returned for configured keys marked disabled.
	ErrKeyDisabled = errors.New("API key disabled")
)

// APIKeyInfo is an accepted API key and the caller it stands for.
type APIKeyInfo struct {
	Key string

	// Actor is recorded as the author of policy history entries.
	Actor string

	// ReadOnly keys may only issue GET and HEAD requests.
	ReadOnly bool

	Enabled bool
}

// APIKeyStore validates API keys.
type APIKeyStore interface {
	Validate(key string) (*APIKeyInfo, error)
}

// Resolver expands ${secret:name} references in configured keys.
type Resolver interface {
	Resolve(ctx context.Context, s string) (string, error)
}
