package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"
)

// Stats contains cache-level statistics for the monitor endpoint.
type Stats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache is the read-through entity cache sitting in front of the config
// store. Keys are namespaced per entity kind so writers can invalidate by
// exact key or by prefix.
type Cache struct {
	lru       *expirable.LRU[string, any]
	mu        sync.Mutex // DeleteByPrefix atomicity
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	maxSize   int
}

// New creates an LRU cache with the given max size and TTL.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	c := &Cache{maxSize: maxSize}
	c.lru = expirable.NewLRU[string, any](maxSize, func(key string, value any) {
		c.evictions.Add(1)
	}, ttl)
	return c
}

// Key joins namespace parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Get retrieves a cached value.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v, true
}

// Set stores a value.
func (c *Cache) Set(key string, v any) {
	c.lru.Add(key, v)
}

// Delete removes the named keys.
func (c *Cache) Delete(keys ...string) {
	for _, key := range keys {
		c.lru.Remove(key)
	}
}

// DeleteByPrefix removes every key under the given namespace prefix.
func (c *Cache) DeleteByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Purge drops every entry. Wired to the admin cache-clear operation.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:      c.lru.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// GetAs fetches a typed value, dropping mistyped entries.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		c.Delete(key)
		return zero, false
	}
	return typed, true
}
