package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"

	"mercator-hq/bastion/pkg/config"
)

// referencePattern matches ${secret:name} references.
var referencePattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Manager resolves secrets through an ordered list of providers, caching
// what it resolves.
type Manager struct {
	providers []Provider
	cache     *Cache
	logger    *slog.Logger
}

// NewManager creates a manager. Providers are asked in order.
func NewManager(providers []Provider, cacheCfg CacheConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: providers,
		cache:     NewCache(cacheCfg),
		logger:    logger.With("component", "secrets"),
	}
}

// FromConfig builds the providers described by cfg.
func FromConfig(cfg *config.SecretsConfig, logger *slog.Logger) (*Manager, error) {
	providers := make([]Provider, 0, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		switch pc.Type {
		case "env":
			providers = append(providers, NewEnvProvider(pc.Prefix))
		case "file":
			fp, err := NewFileProvider(pc.Path, pc.Watch, logger)
			if err != nil {
				closeAll(providers)
				return nil, fmt.Errorf("secret provider %d: %w", i, err)
			}
			providers = append(providers, fp)
		default:
			closeAll(providers)
			return nil, fmt.Errorf("secret provider %d: unknown type %q", i, pc.Type)
		}
	}
	return NewManager(providers, CacheConfig{
		Enabled: cfg.Cache.Enabled,
		TTL:     cfg.Cache.TTL,
		MaxSize: cfg.Cache.MaxSize,
	}, logger), nil
}

// GetSecret returns the first value any supporting provider yields.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	if value, ok := m.cache.Get(name); ok {
		return value, nil
	}

	var lastErr error
	for _, p := range m.providers {
		if !p.Supports(name) {
			continue
		}
		value, err := p.GetSecret(ctx, name)
		if err != nil {
			lastErr = err
			m.logger.Debug("provider could not resolve secret",
				"provider", p.Name(),
				"name", redact(name),
				"error", err,
			)
			continue
		}
		m.cache.Set(name, value)
		m.logger.Debug("secret resolved", "provider", p.Name(), "name", redact(name))
		return value, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("resolve secret %q: %w", name, lastErr)
	}
	return "", fmt.Errorf("%w: %q (no provider supports it)", ErrNotFound, name)
}

// Resolve replaces every ${secret:name} reference in s. References that
// cannot be resolved are left in place and reported in the joined error.
func (m *Manager) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := referencePattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := referencePattern.FindStringSubmatch(ref)[1]
		value, err := m.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return value
	})
	return out, errors.Join(errs...)
}

// Refresh refreshes every Refreshable provider and clears the cache.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []error
	for _, p := range m.providers {
		r, ok := p.(Refreshable)
		if !ok {
			continue
		}
		if err := r.Refresh(ctx); err != nil {
			m.logger.Error("secret provider refresh failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	m.cache.Clear()
	return errors.Join(errs...)
}

// ListSecrets returns the sorted union of every provider's secret names.
// Providers that fail to list are skipped.
func (m *Manager) ListSecrets(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, p := range m.providers {
		names, err := p.ListSecrets(ctx)
		if err != nil {
			m.logger.Warn("secret provider list failed", "provider", p.Name(), "error", err)
			continue
		}
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Close closes providers that hold resources.
func (m *Manager) Close() error {
	return closeAll(m.providers)
}

func closeAll(providers []Provider) error {
	var errs []error
	for _, p := range providers {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// redact keeps the first and last two characters of a secret name.
func redact(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
