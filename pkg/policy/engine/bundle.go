package engine

import (
	"context"
	"reflect"

	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/source"
)

// SyncReport summarises a bundle sync.
type SyncReport struct {
	Created         int  `json:"created"`
	Updated         int  `json:"updated"`
	Unchanged       int  `json:"unchanged"`
	Deleted         int  `json:"deleted"`
	StrategyChanged bool `json:"strategy_changed"`
}

// ApplyBundle synchronizes the store with a configuration store bundle:
// new ids are created, changed policies updated and policies previously
// applied from a bundle but now absent are deleted. Policies created
// through the API are never deleted by a sync. A non-empty bundle strategy
// replaces the active one.
func (e *Engine) ApplyBundle(ctx context.Context, b *source.Bundle) (SyncReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRunningLocked(); err != nil {
		return SyncReport{}, err
	}
	return e.applyBundleLocked(ctx, b)
}

// Reload loads the configured source and applies it.
func (e *Engine) Reload(ctx context.Context) (SyncReport, error) {
	e.mu.RLock()
	src, err := e.src, e.checkRunningLocked()
	e.mu.RUnlock()
	if err != nil || src == nil {
		return SyncReport{}, err
	}
	b, err := src.Load(ctx)
	if err != nil {
		return SyncReport{}, err
	}
	return e.ApplyBundle(ctx, b)
}

func (e *Engine) applyBundleLocked(ctx context.Context, b *source.Bundle) (SyncReport, error) {
	var report SyncReport
	if b == nil {
		return report, nil
	}
	if err := b.Validate(); err != nil {
		return report, err
	}

	if b.Strategy != "" && b.Strategy != e.resolver.Strategy() {
		r, err := e.newResolver(b.Strategy)
		if err != nil {
			return report, err
		}
		e.resolver = r
		report.StrategyChanged = true
		e.logger.Info("conflict resolution strategy changed", "strategy", b.Strategy)
	}

	seen := make(map[string]struct{}, len(b.Policies))
	for _, p := range b.Policies {
		seen[p.ID] = struct{}{}
		cur, ok := e.store.Get(p.ID)
		switch {
		case !ok:
			if _, err := e.createLocked(ctx, p); err != nil {
				return report, err
			}
			report.Created++
		case bundleChanged(cur, p):
			if _, err := e.updateLocked(ctx, p.ID, p); err != nil {
				return report, err
			}
			report.Updated++
		default:
			report.Unchanged++
		}
		e.owned[p.ID] = struct{}{}
	}

	for id := range e.owned {
		if _, keep := seen[id]; keep {
			continue
		}
		if !e.store.Contains(id) {
			delete(e.owned, id)
			continue
		}
		if err := e.deleteLocked(ctx, id); err != nil {
			return report, err
		}
		report.Deleted++
	}
	return report, nil
}

// bundleChanged compares stored content with a bundle entry. Timestamps
// are ignored, and so is the version unless the bundle raises it.
func bundleChanged(cur, next *policy.Policy) bool {
	a, b := cur.Clone(), next.Clone()
	a.CreatedAt, a.UpdatedAt = b.CreatedAt, b.UpdatedAt
	if b.Version.Compare(a.Version) <= 0 {
		b.Version = a.Version
	}
	return !reflect.DeepEqual(a, b)
}
