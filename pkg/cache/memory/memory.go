// Package memory implements an in-memory result cache.
//
// This is the default backend. It keeps decoded resources in a plain map with
// per-entry expiry and an entry-count limit, evicting the least recently used
// entries when full.
package memory

import (
	"sync"
	"time"

	"github.com/arkite/asyncload/pkg/cache"
	"github.com/arkite/asyncload/pkg/resource"
)

// entry is a single cached key.
type entry struct {
	res        *resource.Resource // nil while pending
	pending    bool
	expires    time.Time // zero = no expiry
	lastAccess time.Time
}

// MemoryCache is a bounded in-memory ResultCache.
//
// Characteristics:
//   - No I/O, no serialization: resources are shared by pointer
//   - Entry-count limit with LRU eviction of resolved entries
//   - Lazy expiry: entries are dropped when observed expired
//
// Thread Safety:
// Safe for concurrent use. All operations take the cache mutex; entries are
// small so contention is negligible next to load I/O.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int // 0 = unlimited
	closed     bool
}

// NewMemoryCache creates an in-memory cache holding at most maxEntries
// entries (0 = unlimited).
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
	}
}

// Lookup reports the state of key.
func (c *MemoryCache) Lookup(key string) (*resource.Resource, cache.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, cache.Absent
	}

	e, ok := c.entries[key]
	if !ok {
		return nil, cache.Absent
	}

	if c.expired(e) {
		delete(c.entries, key)
		return nil, cache.Absent
	}

	e.lastAccess = time.Now()
	if e.pending {
		return nil, cache.Pending
	}
	return e.res, cache.Resolved
}

// MarkPending claims key for a load. Any live entry, pending or resolved,
// means the claim is lost. A closed cache reports true so the caller degrades
// to loading without deduplication.
func (c *MemoryCache) MarkPending(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}

	if e, ok := c.entries[key]; ok && !c.expired(e) {
		return false
	}

	c.evictIfFull()
	c.entries[key] = &entry{
		pending:    true,
		expires:    expiry(ttl),
		lastAccess: time.Now(),
	}
	return true
}

// Set publishes the resolved resource for key.
func (c *MemoryCache) Set(key string, res *resource.Resource, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if _, ok := c.entries[key]; !ok {
		c.evictIfFull()
	}
	c.entries[key] = &entry{
		res:        res,
		expires:    expiry(ttl),
		lastAccess: time.Now(),
	}
}

// Evict removes key.
func (c *MemoryCache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of live entries, pending markers included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, key)
			continue
		}
		n++
	}
	return n
}

// Close clears the cache. Subsequent lookups miss.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.closed = true
	return nil
}

// expired reports whether e is past its expiry. Caller holds c.mu.
func (c *MemoryCache) expired(e *entry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

// evictIfFull makes room for one new entry. Expired entries go first, then
// the least recently used one. Caller holds c.mu.
func (c *MemoryCache) evictIfFull() {
	if c.maxEntries <= 0 || len(c.entries) < c.maxEntries {
		return
	}

	for key, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
