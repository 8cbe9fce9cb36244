package collection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiry(t *testing.T) {
	cache := NewTTLCache[string, int](10, 5*time.Minute)
	current := time.Now()
	cache.SetNow(func() time.Time { return current })

	cache.Put("a", 1)
	value, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, value)

	current = current.Add(5*time.Minute + time.Second)
	_, ok = cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestTTLCacheInsertionOrderEviction(t *testing.T) {
	cache := NewTTLCache[string, int](3, time.Hour)
	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("c", 3)

	// Re-putting "a" must not refresh its queue position.
	cache.Put("a", 10)
	cache.Put("d", 4)

	_, ok := cache.Get("a")
	assert.False(t, ok, "oldest-inserted entry should be evicted")
	for _, key := range []string{"b", "c", "d"} {
		_, ok := cache.Get(key)
		assert.True(t, ok, key)
	}
}

func TestTTLCacheInvalidate(t *testing.T) {
	cache := NewTTLCache[string, int](10, time.Hour)
	cache.Put("a", 1)
	cache.Invalidate("a")
	_, ok := cache.Get("a")
	assert.False(t, ok)

	// Invalidated keys left in the queue must not count against eviction.
	cache.Put("b", 2)
	cache.Put("c", 3)
	_, ok = cache.Get("b")
	assert.True(t, ok)
}

func TestTTLCacheSweep(t *testing.T) {
	cache := NewTTLCache[string, int](10, time.Minute)
	current := time.Now()
	cache.SetNow(func() time.Time { return current })

	cache.Put("a", 1)
	cache.Put("b", 2)
	current = current.Add(2 * time.Minute)
	cache.Put("c", 3)

	assert.Equal(t, 2, cache.Sweep())
	assert.Equal(t, 1, cache.Len())
}
