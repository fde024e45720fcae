// Package syncutil holds the small concurrency primitives shared by the
// node-facing managers: a TTL cache, a failure cooldown, a single-flight
// deduplicator and a FIFO semaphore. All of them are safe for concurrent use
// and are constructed once at startup and injected into the managers.
package syncutil

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TTLCache stores values with a per-entry time to live. Expired entries read
// as absent; there is no background sweeper beyond go-cache's janitor.
type TTLCache struct {
	c *gocache.Cache
}

// NewTTLCache creates an empty cache. defaultTTL applies when Set is called
// with a zero ttl.
func NewTTLCache(defaultTTL time.Duration) *TTLCache {
	return &TTLCache{
		c: gocache.New(defaultTTL, 10*time.Minute),
	}
}

// Set stores value under key for ttl. A zero ttl uses the cache default.
func (t *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	t.c.Set(key, value, ttl)
}

// Get returns the live value for key, or ok=false if absent or expired.
func (t *TTLCache) Get(key string) (interface{}, bool) {
	return t.c.Get(key)
}

// Delete removes key immediately.
func (t *TTLCache) Delete(key string) {
	t.c.Delete(key)
}
