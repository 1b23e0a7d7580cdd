package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"mercator-hq/bastion/pkg/clock"
	"mercator-hq/bastion/pkg/policy"
)

// defaultedTimestampResolution buckets the cache key of contexts whose
// timestamp was filled in from the engine clock.
const defaultedTimestampResolution = time.Minute

type cacheEntry struct {
	result  *policy.EvaluationResult
	expires time.Time
}

// resultCache holds evaluation results keyed by context fingerprint and
// store generation. Every mutation bumps the generation, so stale entries
// are never hit; they age out by TTL or are evicted oldest first.
type resultCache struct {
	mu      sync.Mutex
	enabled bool
	ttl     time.Duration
	max     int
	clock   clock.Clock
	entries map[string]cacheEntry
	order   []string
}

func newResultCache(cfg CacheConfig, c clock.Clock) *resultCache {
	return &resultCache{
		enabled: cfg.Enabled,
		ttl:     cfg.TTL,
		max:     cfg.MaxEntries,
		clock:   c,
		entries: make(map[string]cacheEntry),
	}
}

func (c *resultCache) Enabled() bool { return c != nil && c.enabled }

// Get returns a copy of a live entry.
func (c *resultCache) Get(key string) (*policy.EvaluationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.result.Clone(), true
}

// Put stores a copy of res. A concurrent evaluation may have installed the
// same key already; the later result wins, which is equivalent.
func (c *resultCache) Put(key string, res *policy.EvaluationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.max && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{result: res.Clone(), expires: c.clock.Now().Add(c.ttl)}

	if len(c.order) > 2*c.max {
		c.compactLocked()
	}
}

// compactLocked drops order slots whose entries expired or were replaced.
func (c *resultCache) compactLocked() {
	seen := make(map[string]bool, len(c.entries))
	kept := c.order[:0]
	for _, k := range c.order {
		if _, ok := c.entries[k]; ok && !seen[k] {
			seen[k] = true
			kept = append(kept, k)
		}
	}
	c.order = kept
}

// Len returns the number of stored entries.
func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *resultCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
	c.mu.Unlock()
}

// cacheKey fingerprints a context together with the store generation and
// resolution strategy. JSON encoding sorts map keys, which makes metadata
// order irrelevant.
func cacheKey(ctx *policy.EvaluationContext, generation uint64, strategy policy.ResolutionStrategy) string {
	h := sha256.New()
	b, _ := json.Marshal(ctx)
	h.Write(b)
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatUint(generation, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strategy))
	return hex.EncodeToString(h.Sum(nil))
}
