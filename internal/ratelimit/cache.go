package ratelimit

import (
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

// Cache is a TTL cache keyed by logical query. Entries past their TTL miss
// on Get but stay reachable through GetStale until overwritten, so a
// confirmed network failure can still be served the last known payload.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Key builds a cache key from an operation name and its parameters.
func Key(op string, params ...string) string {
	if len(params) == 0 {
		return op
	}
	return op + ":" + strings.Join(params, ":")
}

// Put stores a value under key with the given TTL.
func (c *Cache) Put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, storedAt: time.Now(), ttl: ttl}
}

// Get returns the cached value if it is still within its TTL.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.storedAt) > entry.ttl {
		return nil, false
	}
	return entry.value, true
}

// GetStale returns the most recent cached value regardless of age. Used only
// after a confirmed network failure.
func (c *Cache) GetStale(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.value, true
}
