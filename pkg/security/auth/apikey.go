package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"mercator-hq/bastion/pkg/config"
)

type keyDigest [sha256.Size]byte

// APIKeyValidator validates API keys against a configured set. Keys are
// indexed by SHA-256 digest so raw key material is not retained as map keys.
type APIKeyValidator struct {
	mu   sync.RWMutex
	keys map[keyDigest]*APIKeyInfo
}

// NewAPIKeyValidator creates a validator over keys. A later duplicate key
// replaces an earlier one.
func NewAPIKeyValidator(keys []*APIKeyInfo) *APIKeyValidator {
	v := &APIKeyValidator{keys: make(map[keyDigest]*APIKeyInfo, len(keys))}
	for _, k := range keys {
		v.keys[sha256.Sum256([]byte(k.Key))] = k
	}
	return v
}

// FromConfig builds a validator from the configured keys, expanding secret
// references through resolver. resolver may be nil when no key uses one.
func FromConfig(ctx context.Context, cfg *config.AuthenticationConfig, resolver Resolver) (*APIKeyValidator, error) {
	infos := make([]*APIKeyInfo, 0, len(cfg.Keys))
	for i, k := range cfg.Keys {
		key := k.Key
		if resolver != nil {
			resolved, err := resolver.Resolve(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("api key %d (%s): %w", i, k.Actor, err)
			}
			key = resolved
		}
		if key == "" {
			return nil, fmt.Errorf("api key %d (%s) is empty", i, k.Actor)
		}
		infos = append(infos, &APIKeyInfo{
			Key:      key,
			Actor:    k.Actor,
			ReadOnly: k.ReadOnly,
			Enabled:  !k.Disabled,
		})
	}
	return NewAPIKeyValidator(infos), nil
}

// Validate returns the info for key.
func (v *APIKeyValidator) Validate(key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	v.mu.RLock()
	info, ok := v.keys[sha256.Sum256([]byte(key))]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidKey
	}
	if !info.Enabled {
		return nil, ErrKeyDisabled
	}
	return info, nil
}

// Add registers or replaces a key.
func (v *APIKeyValidator) Add(info *APIKeyInfo) {
	v.mu.Lock()
	v.keys[sha256.Sum256([]byte(info.Key))] = info
	v.mu.Unlock()
}

// Remove forgets a key.
func (v *APIKeyValidator) Remove(key string) {
	v.mu.Lock()
	delete(v.keys, sha256.Sum256([]byte(key)))
	v.mu.Unlock()
}

// Actors returns the sorted actors of every registered key.
func (v *APIKeyValidator) Actors() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.keys))
	for _, info := range v.keys {
		out = append(out, info.Actor)
	}
	sort.Strings(out)
	return out
}
