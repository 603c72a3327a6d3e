// Package cache is a small TTL cache used for hot read paths: feature
// flags, permission lookups, and option lists.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps ristretto with a fixed TTL and unit costs.
type Cache[V any] struct {
	inner *ristretto.Cache[string, V]
	ttl   time.Duration
}

// New builds a cache holding up to maxItems entries for ttl each.
func New[V any](maxItems int64, ttl time.Duration) (*Cache[V], error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{inner: inner, ttl: ttl}, nil
}

// Get returns the cached value and whether it was present.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.inner.Get(key)
}

// Set stores the value for the cache's TTL. Admission is best-effort.
func (c *Cache[V]) Set(key string, value V) {
	c.inner.SetWithTTL(key, value, 1, c.ttl)
}

// Delete drops the key.
func (c *Cache[V]) Delete(key string) {
	c.inner.Del(key)
}

// Close releases the cache's resources.
func (c *Cache[V]) Close() {
	c.inner.Close()
}
