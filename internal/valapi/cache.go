package valapi

import (
	"sync"
	"time"

	"github.com/valorwatch/valorwatch/internal/metrics"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an in-memory TTL cache for upstream response bodies. An expired
// entry is indistinguishable from an absent one; stored values are copied
// on the way in and out so callers can never mutate a cached body.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewCache creates an empty cache.
func NewCache(m *metrics.Metrics) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
		metrics: m,
	}
}

// Get returns the cached value for key when present and not expired.
// Lookup and expiry check are atomic with respect to Set and Clear.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.updateGaugeLocked()
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: stored, expiresAt: c.now().Add(ttl)}
	c.updateGaugeLocked()
}

// Clear drops every entry. Clearing an empty cache is a no-op.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.updateGaugeLocked()
}

// Len reports the number of stored entries, expired ones included until
// their next lookup.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) updateGaugeLocked() {
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(len(c.entries)))
	}
}
