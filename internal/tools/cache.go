package tools

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deskwing/deskwing/pkg/contracts"
)

// DefaultCacheSize bounds the number of cached tool results.
const DefaultCacheSize = 4096

type cacheEntry struct {
	data      map[string]any
	expiresAt time.Time
}

// LRUCache is the default result cache: size-bounded LRU with a
// per-entry TTL carried from each tool's definition.
type LRUCache struct {
	inner *lru.Cache[string, cacheEntry]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats reports hit/miss counters since startup.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

var _ contracts.Cache = (*LRUCache)(nil)

// NewLRUCache creates a result cache holding at most size entries.
func NewLRUCache(size int) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	inner, _ := lru.New[string, cacheEntry](size)
	return &LRUCache{inner: inner}
}

// Get returns the cached data for key if present and unexpired.
func (c *LRUCache) Get(key string) (map[string]any, bool) {
	entry, ok := c.inner.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.inner.Remove(key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.data, true
}

// Set stores data under key for ttl.
func (c *LRUCache) Set(key string, data map[string]any, ttl time.Duration) {
	c.inner.Add(key, cacheEntry{data: data, expiresAt: time.Now().Add(ttl)})
}

// Evict removes key.
func (c *LRUCache) Evict(key string) {
	c.inner.Remove(key)
}

// Stats returns the current counters.
func (c *LRUCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.inner.Len(),
	}
}
