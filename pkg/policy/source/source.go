// Package source loads bootstrap policies and the default resolution
// strategy from a configuration store.
//
// Three stores are provided: a YAML bundle on disk (FileSource, optionally
// watched for changes), an embedded SQLite database (SQLiteSource) and an
// in-memory bundle (MemorySource). Git repositories are served by package
// git, which reads its checkout through a FileSource.
package source

import (
	"context"
	"fmt"
	"sync"

	"mercator-hq/bastion/pkg/policy"
)

// Bundle is the content of a configuration store.
type Bundle struct {
	// Strategy is the default conflict resolution strategy. Empty leaves
	// the engine default in place.
	Strategy policy.ResolutionStrategy `yaml:"default_strategy,omitempty" json:"default_strategy,omitempty"`

	Policies []*policy.Policy `yaml:"policies" json:"policies"`
}

// Validate checks every policy and rejects duplicate ids.
func (b *Bundle) Validate() error {
	if b.Strategy != "" && !b.Strategy.Valid() {
		return fmt.Errorf("unknown default strategy %q", b.Strategy)
	}
	seen := make(map[string]struct{}, len(b.Policies))
	for i, p := range b.Policies {
		if p == nil {
			return fmt.Errorf("policies[%d]: %w", i, policy.ErrInvalidPolicy)
		}
		if p.ID == "" {
			return &policy.ValidationError{Field: fmt.Sprintf("policies[%d].policy_id", i), Message: "bundle policies need an id"}
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate policy id %q in bundle", policy.ErrPolicyConflict, p.ID)
		}
		seen[p.ID] = struct{}{}
		if err := policy.Validate(p); err != nil {
			return err
		}
	}
	return nil
}

// Source is a configuration store.
type Source interface {
	Load(ctx context.Context) (*Bundle, error)
	Name() string
}

// Watcher is implemented by sources that can report changes. Watch blocks
// until ctx is done, calling onChange after each settled change.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// MemorySource serves a bundle held in memory.
type MemorySource struct {
	mu     sync.RWMutex
	bundle Bundle
}

// NewMemorySource creates a memory source.
func NewMemorySource(strategy policy.ResolutionStrategy, policies ...*policy.Policy) *MemorySource {
	m := &MemorySource{}
	m.Set(strategy, policies...)
	return m
}

// Name returns "memory".
func (m *MemorySource) Name() string { return "memory" }

// Set replaces the bundle.
func (m *MemorySource) Set(strategy policy.ResolutionStrategy, policies ...*policy.Policy) {
	cp := make([]*policy.Policy, len(policies))
	for i, p := range policies {
		cp[i] = p.Clone()
	}
	m.mu.Lock()
	m.bundle = Bundle{Strategy: strategy, Policies: cp}
	m.mu.Unlock()
}

// Load returns a copy of the bundle.
func (m *MemorySource) Load(context.Context) (*Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := &Bundle{Strategy: m.bundle.Strategy, Policies: make([]*policy.Policy, len(m.bundle.Policies))}
	for i, p := range m.bundle.Policies {
		out.Policies[i] = p.Clone()
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
