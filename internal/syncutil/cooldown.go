package syncutil

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cooldown tracks keys that recently failed so callers can skip retrying them
// until the window expires. A positive Get means "do not even try": the caller
// short-circuits without any network call. A successful operation must Clear
// its key so the next attempt is allowed immediately.
type Cooldown struct {
	c *gocache.Cache
}

// NewCooldown creates an empty cooldown tracker.
func NewCooldown() *Cooldown {
	return &Cooldown{
		c: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// Set marks key as cooling down for d, remembering the failure reason.
func (cd *Cooldown) Set(key string, d time.Duration, reason string) {
	cd.c.Set(key, reason, d)
}

// Get returns the stored failure reason and ok=true while key is cooling
// down, or ok=false once the window has elapsed or was cleared.
func (cd *Cooldown) Get(key string) (string, bool) {
	v, ok := cd.c.Get(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Clear removes the cooldown for key.
func (cd *Cooldown) Clear(key string) {
	cd.c.Delete(key)
}
