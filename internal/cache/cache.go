package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Cache defines the interface for response cache implementations.
// Values are JSON-encoded bytes. Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// GetJSON reads key and decodes it into a T. A value that no longer decodes is reported as a miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var out T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, nil
	}
	return out, true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// InMemoryCache implements Cache using an in-memory map with TTL-based expiration.
// Expired entries are removed on access; there is no background sweep. Safe for concurrent use.
type InMemoryCache struct {
	mu         sync.Mutex
	data       map[string]cacheEntry
	maxEntries int
	now        func() time.Time
}

// cacheEntry stores a cached value with its expiration timestamp.
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// Option configures an InMemoryCache.
type Option func(*InMemoryCache)

// WithMaxEntries bounds the number of entries. 0 means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *InMemoryCache) { c.maxEntries = n }
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(c *InMemoryCache) { c.now = now }
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache(opts ...Option) *InMemoryCache {
	c := &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves the cached value for key if present and not expired.
// Returns (value, true, nil) on cache hit, (nil, false, nil) on miss or expiration.
// Expired entries are removed from the cache.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}

	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value with the specified TTL. The entry expires after TTL elapses
// and is removed on the next Get.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.data[key]; !exists && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// evictLocked drops expired entries, then the one closest to expiry if still full.
func (c *InMemoryCache) evictLocked(now time.Time) {
	for k, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, k)
		}
	}
	if len(c.data) < c.maxEntries {
		return
	}
	var victim string
	var soonest time.Time
	for k, e := range c.data {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	delete(c.data, victim)
}
