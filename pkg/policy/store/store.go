// Package store holds the authoritative policy_id to Policy mapping.
//
// Store is safe for concurrent use. Writes validate well-formedness before
// touching state, so a rejected write never leaves a partial change behind.
// Every successful write bumps a generation counter that read-side caches
// use to detect staleness.
package store

import (
	"fmt"
	"slices"
	"sync"

	"mercator-hq/bastion/pkg/policy"
)

// Stats summarises the store contents.
type Stats struct {
	TotalPolicies   int `json:"total_policies"`
	EnabledPolicies int `json:"enabled_policies"`
	TotalRules      int `json:"total_rules"`
	ActiveRules     int `json:"active_rules"`
}

// Store is a thread-safe, insertion-ordered policy map.
type Store struct {
	mu         sync.RWMutex
	policies   map[string]*policy.Policy
	order      []string
	generation uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		policies: make(map[string]*policy.Policy),
	}
}

// Insert adds a new policy. The store keeps its own copy.
func (s *Store) Insert(p *policy.Policy) error {
	if err := policy.Validate(p); err != nil {
		return err
	}
	if p.ID == "" {
		return &policy.ValidationError{Field: "policy_id", Message: "policy id cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[p.ID]; exists {
		return fmt.Errorf("%w: policy %s already exists", policy.ErrPolicyConflict, p.ID)
	}
	s.policies[p.ID] = p.Clone()
	s.order = append(s.order, p.ID)
	s.generation++
	return nil
}

// Replace swaps the content stored under id. The id of p is forced to id.
func (s *Store) Replace(id string, p *policy.Policy) error {
	if err := policy.Validate(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[id]; !exists {
		return notFound(id)
	}
	c := p.Clone()
	c.ID = id
	s.policies[id] = c
	s.generation++
	return nil
}

// Delete removes a policy and returns the removed content.
func (s *Store) Delete(id string) (*policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.policies[id]
	if !exists {
		return nil, notFound(id)
	}
	delete(s.policies, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.generation++
	return p, nil
}

// Modify applies fn to the stored policy in place under the write lock.
// It is intended for fields that do not alter content, such as the
// enabled flag and timestamps.
func (s *Store) Modify(id string, fn func(p *policy.Policy)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.policies[id]
	if !exists {
		return notFound(id)
	}
	fn(p)
	s.generation++
	return nil
}

// Get returns a copy of the policy stored under id.
func (s *Store) Get(id string) (*policy.Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Contains reports whether id is stored.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.policies[id]
	return ok
}

// List returns copies of all policies in insertion order.
func (s *Store) List() []*policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*policy.Policy, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.policies[id].Clone())
	}
	return out
}

// Range calls fn for each policy in insertion order until fn returns false.
// The policy passed to fn is the stored value and must not be modified or
// retained.
func (s *Store) Range(fn func(p *policy.Policy) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if !fn(s.policies[id]) {
			return
		}
	}
}

// IDs returns the stored ids in insertion order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Len returns the number of stored policies.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}

// Generation returns a counter that changes on every successful write.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Stats counts policies and rules. Active rules are enabled rules of
// enabled policies.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, p := range s.policies {
		st.TotalPolicies++
		st.TotalRules += len(p.Rules)
		if !p.Enabled {
			continue
		}
		st.EnabledPolicies++
		for i := range p.Rules {
			if p.Rules[i].Enabled {
				st.ActiveRules++
			}
		}
	}
	return st
}

// Clear removes every policy.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = make(map[string]*policy.Policy)
	s.order = nil
	s.generation++
}

func notFound(id string) error {
	return fmt.Errorf("%w: policy %s", policy.ErrNotFound, id)
}
