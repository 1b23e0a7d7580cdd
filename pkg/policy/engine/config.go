package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/propagation"
)

// ErrInvalidConfig is returned for invalid engine configuration.
var ErrInvalidConfig = errors.New("invalid engine configuration")

// CacheConfig configures the evaluation result cache.
type CacheConfig struct {
	// Enabled turns the cache on.
	// Default: true.
	Enabled bool

	// TTL bounds the age of a cached result.
	// Default: 1 minute.
	TTL time.Duration

	// MaxEntries bounds the cache size.
	// Default: 10000.
	MaxEntries int
}

// Config contains configuration for the engine.
type Config struct {
	// LoadDefaults loads the built-in system-security and access-control
	// policies on Init.
	// Default: true.
	LoadDefaults bool

	// DefaultStrategy resolves conflicts unless the configuration store
	// bundle names another one.
	// Default: highest_priority.
	DefaultStrategy policy.ResolutionStrategy

	Cache CacheConfig

	// MaxHistoryPerPolicy bounds snapshots kept per policy. Rollback points
	// are never evicted. Negative means unbounded.
	// Default: 100.
	MaxHistoryPerPolicy int

	Propagation propagation.Config

	// ReconcileSchedule is a cron expression for the binding reconciler.
	// Empty disables it.
	// Default: "@every 30s".
	ReconcileSchedule string

	// StaleAfter is how long a push may stay in progress before the
	// reconciler marks it timed out.
	// Default: 1 minute.
	StaleAfter time.Duration

	// ViolationCapacity bounds the violation log. Zero means unbounded.
	ViolationCapacity int

	// WatchSource reloads the configuration store bundle when the source
	// reports a change.
	WatchSource bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		LoadDefaults:        true,
		DefaultStrategy:     policy.StrategyHighestPriority,
		Cache:               CacheConfig{Enabled: true, TTL: time.Minute, MaxEntries: 10000},
		MaxHistoryPerPolicy: 100,
		Propagation:         propagation.DefaultConfig(),
		ReconcileSchedule:   "@every 30s",
		StaleAfter:          time.Minute,
	}
}

// Validate validates the engine configuration.
func (c *Config) Validate() error {
	if c.DefaultStrategy != "" && !c.DefaultStrategy.Valid() {
		return fmt.Errorf("%w: unknown default strategy %q", ErrInvalidConfig, c.DefaultStrategy)
	}
	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("%w: cache ttl must be positive", ErrInvalidConfig)
		}
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("%w: cache max entries must be positive", ErrInvalidConfig)
		}
	}
	if c.Propagation.Workers < 0 || c.Propagation.QueueSize < 0 || c.Propagation.PushTimeout < 0 {
		return fmt.Errorf("%w: propagation settings cannot be negative", ErrInvalidConfig)
	}
	if c.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
			return fmt.Errorf("%w: invalid reconcile schedule %q: %v", ErrInvalidConfig, c.ReconcileSchedule, err)
		}
		if c.StaleAfter <= 0 {
			return fmt.Errorf("%w: stale after must be positive", ErrInvalidConfig)
		}
	}
	if c.ViolationCapacity < 0 {
		return fmt.Errorf("%w: violation capacity cannot be negative", ErrInvalidConfig)
	}
	return nil
}
