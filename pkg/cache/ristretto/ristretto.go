// Package ristretto implements a ResultCache backed by dgraph's ristretto.
//
// Ristretto gives cost-based admission and TTL for the resolved entries, which
// suits large resource payloads. Admission is probabilistic though: a write
// may be dropped under pressure, which is fine for resolved resources (the
// loader just reloads) but not for pending markers, where a dropped write
// would break request deduplication. Pending markers therefore live in a
// small side map guarded by a mutex.
package ristretto

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/arkite/asyncload/pkg/cache"
	"github.com/arkite/asyncload/pkg/resource"
)

// RistrettoCache is a cost-bounded ResultCache.
type RistrettoCache struct {
	resolved *ristretto.Cache[string, *resource.Resource]

	mu      sync.Mutex
	pending map[string]time.Time // key -> marker expiry
	closed  bool
}

// NewRistrettoCache creates a ristretto-backed cache bounded to maxCost bytes
// of resolved payload.
func NewRistrettoCache(maxCost int64) (*RistrettoCache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, *resource.Resource]{
		NumCounters: 10_000, // ~10x expected live entries, per ristretto guidance
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{
		resolved: inner,
		pending:  make(map[string]time.Time),
	}, nil
}

// Lookup reports the state of key.
func (c *RistrettoCache) Lookup(key string) (*resource.Resource, cache.State) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, cache.Absent
	}
	if expires, ok := c.pending[key]; ok {
		if time.Now().Before(expires) {
			c.mu.Unlock()
			return nil, cache.Pending
		}
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if res, ok := c.resolved.Get(key); ok {
		return res, cache.Resolved
	}
	return nil, cache.Absent
}

// MarkPending claims key for a load. A resolved key or a live marker loses
// the claim; a closed cache reports true so the caller degrades to loading
// without deduplication.
func (c *RistrettoCache) MarkPending(key string, ttl time.Duration) bool {
	if _, ok := c.resolved.Get(key); ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if expires, ok := c.pending[key]; ok && time.Now().Before(expires) {
		return false
	}
	c.pending[key] = time.Now().Add(ttl)
	return true
}

// Set publishes the resolved resource for key. The write is synchronous:
// ristretto buffers admissions, so Set waits for the buffer to drain to keep
// the read-your-write semantics the dispatcher relies on.
func (c *RistrettoCache) Set(key string, res *resource.Resource, ttl time.Duration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.mu.Unlock()

	cost := res.Size()
	if cost == 0 {
		cost = 1
	}
	c.resolved.SetWithTTL(key, res, cost, ttl)
	c.resolved.Wait()
}

// Evict removes key regardless of state.
func (c *RistrettoCache) Evict(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
	c.resolved.Del(key)
}

// Len returns an approximate entry count: live pending markers plus
// ristretto's added-minus-evicted key counters. Approximate because ristretto
// tracks admissions, not deletions.
func (c *RistrettoCache) Len() int {
	c.mu.Lock()
	n := 0
	now := time.Now()
	for key, expires := range c.pending {
		if now.Before(expires) {
			n++
		} else {
			delete(c.pending, key)
		}
	}
	c.mu.Unlock()

	m := c.resolved.Metrics
	if m != nil {
		added := m.KeysAdded()
		evicted := m.KeysEvicted()
		if added > evicted {
			n += int(added - evicted)
		}
	}
	return n
}

// Close releases the underlying ristretto cache.
func (c *RistrettoCache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.pending = make(map[string]time.Time)
	c.mu.Unlock()
	c.resolved.Close()
	return nil
}
