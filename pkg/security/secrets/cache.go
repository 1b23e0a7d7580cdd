package secrets

import (
	"sync"
	"time"
)

// CacheConfig configures the resolved-secret cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	MaxSize int
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Cache holds resolved secrets for TTL. When full, the entry closest to
// expiry is evicted.
type Cache struct {
	cfg CacheConfig
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache creates a cache.
func NewCache(cfg CacheConfig) *Cache {
	return &Cache{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a live cached value.
func (c *Cache) Get(name string) (string, bool) {
	if !c.cfg.Enabled {
		return "", false
	}
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

// Set caches value under name.
func (c *Cache) Set(name, value string) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[name]; !exists && c.cfg.MaxSize > 0 && len(c.entries) >= c.cfg.MaxSize {
		c.evictLocked()
	}
	c.entries[name] = cacheEntry{value: value, expiresAt: c.now().Add(c.cfg.TTL)}
}

func (c *Cache) evictLocked() {
	var victim string
	var soonest time.Time
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	delete(c.entries, victim)
}

// Delete drops one entry.
func (c *Cache) Delete(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
