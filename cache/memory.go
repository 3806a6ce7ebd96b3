package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds a MemoryCache when the policy sets no limit.
const DefaultMaxEntries = 1024

// MemoryCache is a bounded in-memory cache. Entries expire after their TTL
// and the least recently used entry is evicted once MaxEntries is reached.
type MemoryCache struct {
	entries *lru.Cache[string, cacheEntry]
	policy  Policy
	now     func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache with the given policy.
func NewMemoryCache(policy Policy) *MemoryCache {
	size := policy.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, cacheEntry](size)
	return &MemoryCache{
		entries: entries,
		policy:  policy,
		now:     time.Now,
	}
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// Set stores a value. The TTL is resolved through the policy; a resolved
// TTL of zero stores nothing.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}
	c.entries.Add(key, cacheEntry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// Purge removes every entry.
func (c *MemoryCache) Purge() {
	c.entries.Purge()
}

var _ Cache = (*MemoryCache)(nil)
