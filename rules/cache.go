package rules

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RulesCache provides an abstraction for caching the active rule list
type RulesCache interface {
	// Get retrieves cached rules, returns nil on a miss or after expiry
	Get() []*Rule

	// Set stores rules in cache
	Set(rules []*Rule)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for the cached list.
	// 0 means no expiration (invalidate on mutation only).
	TTL time.Duration
}

// DefaultCacheConfig invalidates on mutations only
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

const activeRulesKey = "active"

// InMemoryRulesCache keeps the active rule list in a go-cache instance
type InMemoryRulesCache struct {
	items *gocache.Cache
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	cleanup := time.Duration(0)
	if config.TTL > 0 {
		cleanup = 2 * config.TTL
	}
	return &InMemoryRulesCache{
		items: gocache.New(ttl, cleanup),
	}
}

// Get returns a copy of the cached list, or nil on a miss
func (c *InMemoryRulesCache) Get() []*Rule {
	v, ok := c.items.Get(activeRulesKey)
	if !ok {
		return nil
	}
	cached := v.([]*Rule)
	out := make([]*Rule, len(cached))
	for i, r := range cached {
		out[i] = r.clone()
	}
	return out
}

// Set stores a copy of rules
func (c *InMemoryRulesCache) Set(rules []*Rule) {
	stored := make([]*Rule, len(rules))
	for i, r := range rules {
		stored[i] = r.clone()
	}
	c.items.Set(activeRulesKey, stored, gocache.DefaultExpiration)
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate() {
	c.items.Delete(activeRulesKey)
}

// IsValid returns true if cache contains unexpired data
func (c *InMemoryRulesCache) IsValid() bool {
	_, ok := c.items.Get(activeRulesKey)
	return ok
}
