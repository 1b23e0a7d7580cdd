// Package history keeps the append-only log of policy snapshots used for
// auditing and rollback.
//
// Each entry holds the serialized policy as produced by a codec.Codec, so
// rollback decodes exactly what was stored. Entries are keyed by a history
// id derived from the policy id and a monotonic stamp. A per-policy cap
// evicts the oldest entries first but never evicts rollback points.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"mercator-hq/bastion/pkg/clock"
	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/codec"
)

// DefaultMaxPerPolicy is the default number of entries retained per policy.
const DefaultMaxPerPolicy = 100

// Config configures a History.
type Config struct {
	// MaxPerPolicy bounds retained entries per policy. Zero means the default;
	// negative means unbounded.
	MaxPerPolicy int

	// Codec serializes snapshots. Defaults to codec.JSON.
	Codec codec.Codec

	// Clock stamps entries. Defaults to clock.Real.
	Clock clock.Clock

	Logger *slog.Logger
}

// History is the snapshot log. It is safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	entries  map[string]*policy.HistoryEntry
	byPolicy map[string][]string
	stamp    uint64
	evicted  uint64

	max    int
	codec  codec.Codec
	clock  clock.Clock
	logger *slog.Logger
}

// New creates an empty history.
func New(cfg Config) *History {
	if cfg.MaxPerPolicy == 0 {
		cfg.MaxPerPolicy = DefaultMaxPerPolicy
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &History{
		entries:  make(map[string]*policy.HistoryEntry),
		byPolicy: make(map[string][]string),
		max:      cfg.MaxPerPolicy,
		codec:    cfg.Codec,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "history"),
	}
}

// RecordOptions describe a snapshot.
type RecordOptions struct {
	Changes       policy.ChangeSet
	CreatedBy     string
	RollbackPoint bool
}

// Record serializes p and appends an entry for it.
func (h *History) Record(p *policy.Policy, opts RecordOptions) (*policy.HistoryEntry, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("%w: snapshot requires a policy id", policy.ErrInvalidPolicy)
	}
	data, err := h.codec.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot of %s: %w", p.ID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.stamp++
	now := h.clock.Now()
	entry := &policy.HistoryEntry{
		ID:              historyID(p.ID, h.stamp, now.UnixNano()),
		PolicyID:        p.ID,
		Version:         p.Version,
		Snapshot:        data,
		Changes:         opts.Changes,
		CreatedBy:       opts.CreatedBy,
		CreatedAt:       now,
		IsRollbackPoint: opts.RollbackPoint,
	}
	h.entries[entry.ID] = entry
	h.byPolicy[p.ID] = append(h.byPolicy[p.ID], entry.ID)
	h.evictLocked(p.ID)

	h.logger.Debug("snapshot recorded",
		"policy_id", p.ID,
		"history_id", entry.ID,
		"version", p.Version.String(),
		"rollback_point", opts.RollbackPoint,
	)
	return copyEntry(entry), nil
}

// evictLocked drops the oldest non rollback-point entries of policyID while
// the policy exceeds the cap. Entries are appended in stamp order, so the
// front of the list is the oldest.
func (h *History) evictLocked(policyID string) {
	if h.max < 0 {
		return
	}
	ids := h.byPolicy[policyID]
	for len(ids) > h.max {
		i := slices.IndexFunc(ids, func(id string) bool {
			return !h.entries[id].IsRollbackPoint
		})
		if i < 0 {
			break
		}
		delete(h.entries, ids[i])
		ids = slices.Delete(ids, i, i+1)
		h.evicted++
	}
	h.byPolicy[policyID] = ids
}

// Get returns the entry with the given id.
func (h *History) Get(historyID string) (*policy.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.entries[historyID]
	if !ok {
		return nil, fmt.Errorf("%w: history entry %s", policy.ErrNotFound, historyID)
	}
	return copyEntry(e), nil
}

// List returns the retained entries of a policy, oldest first.
func (h *History) List(policyID string) []policy.HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := h.byPolicy[policyID]
	out := make([]policy.HistoryEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *copyEntry(h.entries[id]))
	}
	return out
}

// Latest returns the most recent entry of a policy.
func (h *History) Latest(policyID string) (*policy.HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := h.byPolicy[policyID]
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no history for policy %s", policy.ErrNotFound, policyID)
	}
	return copyEntry(h.entries[ids[len(ids)-1]]), nil
}

// Restore decodes the snapshot historyID for policyID. It fails with
// ErrNotFound for an unknown entry, ErrInvalidScope when the entry belongs
// to another policy and ErrVersionMismatch when the bytes cannot be decoded.
func (h *History) Restore(policyID, historyID string) (*policy.Policy, *policy.HistoryEntry, error) {
	entry, err := h.Get(historyID)
	if err != nil {
		return nil, nil, err
	}
	if entry.PolicyID != policyID {
		return nil, nil, fmt.Errorf("%w: history entry %s belongs to policy %s, not %s",
			policy.ErrInvalidScope, historyID, entry.PolicyID, policyID)
	}
	p, err := h.codec.Decode(entry.Snapshot)
	if err != nil {
		return nil, nil, err
	}
	p.ID = policyID
	return p, entry, nil
}

// Len returns the number of retained entries across all policies.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Evicted returns how many entries the cap has dropped.
func (h *History) Evicted() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.evicted
}

// historyID derives a collision-resistant id from the policy id and the
// monotonic stamp.
func historyID(policyID string, stamp uint64, nanos int64) string {
	sum := sha256.Sum256([]byte(policyID + ":" + strconv.FormatUint(stamp, 10) + ":" + strconv.FormatInt(nanos, 10)))
	return hex.EncodeToString(sum[:16])
}

func copyEntry(e *policy.HistoryEntry) *policy.HistoryEntry {
	c := *e
	c.Snapshot = slices.Clone(e.Snapshot)
	c.Changes.AddedRules = slices.Clone(e.Changes.AddedRules)
	c.Changes.RemovedRules = slices.Clone(e.Changes.RemovedRules)
	c.Changes.ModifiedRules = slices.Clone(e.Changes.ModifiedRules)
	return &c
}
