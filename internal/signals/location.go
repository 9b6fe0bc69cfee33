package signals

import (
	"context"
	"sync"
	"time"
)

// DefaultLocationMaxAge is how long a fix stays usable.
const DefaultLocationMaxAge = 5 * time.Minute

// LocationCache keeps the latest position fix pushed by the host app's
// location watcher. Stale fixes are reported as missing.
type LocationCache struct {
	mu     sync.RWMutex
	last   *Location
	maxAge time.Duration
	now    func() time.Time
}

// NewLocationCache creates a cache. maxAge <= 0 uses DefaultLocationMaxAge.
func NewLocationCache(maxAge time.Duration, now func() time.Time) *LocationCache {
	if maxAge <= 0 {
		maxAge = DefaultLocationMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &LocationCache{maxAge: maxAge, now: now}
}

// Update stores a new fix. A zero CapturedAt is stamped with the current time.
func (c *LocationCache) Update(loc Location) {
	if loc.CapturedAt.IsZero() {
		loc.CapturedAt = c.now()
	}
	c.mu.Lock()
	c.last = &loc
	c.mu.Unlock()
}

// Clear drops the current fix, e.g. after the user revokes permission.
func (c *LocationCache) Clear() {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
}

// Location implements LocationSource.
func (c *LocationCache) Location(ctx context.Context) (*Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.last == nil {
		return nil, nil
	}
	if c.now().Sub(c.last.CapturedAt) > c.maxAge {
		return nil, nil
	}
	loc := *c.last
	return &loc, nil
}
