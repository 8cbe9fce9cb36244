// Package collection provides the bounded TTL cache backing credential
// validation.
package collection

import (
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a bounded cache with per-entry expiry. Eviction on overflow is
// insertion-order (oldest-inserted entry dropped first), not LRU: re-putting a
// key updates its value and expiry but keeps its original queue position.
// Expired entries are never returned; Invalidate removes an entry immediately.
type TTLCache[K comparable, V any] struct {
	mux      sync.Mutex
	entries  map[K]*ttlEntry[V]
	order    []K
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewTTLCache creates a cache holding at most capacity entries, each valid for ttl.
func NewTTLCache[K comparable, V any](capacity int, ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		entries:  make(map[K]*ttlEntry[V]),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetNow overrides the clock; intended for tests.
func (c *TTLCache[K, V]) SetNow(now func() time.Time) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.now = now
}

// Get returns the cached value when present and not expired. An expired entry
// is removed on access.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	var zero V
	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return entry.value, true
}

// Put stores a value with a fresh TTL, evicting the oldest-inserted entry when
// the capacity bound would be exceeded.
func (c *TTLCache[K, V]) Put(key K, value V) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if entry, ok := c.entries[key]; ok {
		entry.value = value
		entry.expiresAt = c.now().Add(c.ttl)
		return
	}
	for len(c.entries) >= c.capacity {
		if !c.evictOldestLocked() {
			break
		}
	}
	c.entries[key] = &ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.order = append(c.order, key)
}

// evictOldestLocked drops the oldest-inserted live entry, skipping queue keys
// whose entries were already invalidated.
func (c *TTLCache[K, V]) evictOldestLocked() bool {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			return true
		}
	}
	return false
}

// Invalidate removes an entry immediately; the next Get is a guaranteed miss.
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mux.Lock()
	defer c.mux.Unlock()
	delete(c.entries, key)
}

// Sweep removes every expired entry and reports how many were dropped.
func (c *TTLCache[K, V]) Sweep() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	now := c.now()
	dropped := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live entries, expired or not yet swept included.
func (c *TTLCache[K, V]) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.entries)
}
