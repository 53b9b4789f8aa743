package analytics

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a computed snapshot is served before recomputing.
const DefaultTTL = 5 * time.Minute

// Computer produces a snapshot as of now. *Aggregator implements it.
type Computer interface {
	Compute(ctx context.Context, now time.Time) (*Snapshot, error)
}

// Cache holds a single snapshot slot with an absolute expiry. Writes to the
// store never invalidate it, so readers may see data up to one TTL old.
//
// The mutex only guards the slot. Concurrent misses each compute and the last
// writer wins.
type Cache struct {
	computer Computer
	ttl      time.Duration

	mu     sync.Mutex
	data   *Snapshot
	expiry time.Time
}

// NewCache constructs an empty Cache. A non-positive ttl uses DefaultTTL.
func NewCache(computer Computer, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{computer: computer, ttl: ttl}
}

// GetOrCompute returns the cached snapshot while now is before its expiry and
// otherwise recomputes it, storing the result until now+TTL. Failed computations
// leave the slot untouched.
func (c *Cache) GetOrCompute(ctx context.Context, now time.Time) (*Snapshot, error) {
	if data, ok := c.lookup(now); ok {
		cacheHits.Inc()
		return data, nil
	}
	cacheMisses.Inc()

	data, err := c.computer.Compute(ctx, now)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.data = data
	c.expiry = now.Add(c.ttl)
	c.mu.Unlock()

	cacheExpiry.Set(float64(now.Add(c.ttl).Unix()))
	return data, nil
}

// Expiry reports when the current slot goes stale. Zero means empty.
func (c *Cache) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry
}

func (c *Cache) lookup(now time.Time) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil || !now.Before(c.expiry) {
		return nil, false
	}
	return c.data, true
}
