package api

import (
	"context"
	"sync"
	"time"
)

// DefaultHealthCacheTTL is how long a store health probe result is reused
const DefaultHealthCacheTTL = 5 * time.Second

// HealthCache reuses the last store health probe for a TTL so frequent
// liveness checks do not each hit the database.
type HealthCache struct {
	mu        sync.Mutex
	err       error
	checkedAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

// NewHealthCache creates a HealthCache. A TTL of 0 probes on every call.
func NewHealthCache(ttl time.Duration) *HealthCache {
	return &HealthCache{ttl: ttl, now: time.Now}
}

// Check returns the cached probe result while it is fresh, otherwise runs
// probe and caches its result. Concurrent callers share one probe.
func (c *HealthCache) Check(ctx context.Context, probe func(context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.checkedAt.IsZero() && c.now().Sub(c.checkedAt) < c.ttl {
		return c.err
	}
	c.err = probe(ctx)
	c.checkedAt = c.now()
	return c.err
}

// Invalidate forces the next Check to probe.
func (c *HealthCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkedAt = time.Time{}
}

// TTL returns the cache's time-to-live duration.
func (c *HealthCache) TTL() time.Duration {
	return c.ttl
}
