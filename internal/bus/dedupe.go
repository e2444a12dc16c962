package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen keys so platform redeliveries are
// processed once. Entries expire after ttl; the cache holds at most max
// keys and evicts the oldest first.
type DedupeCache struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu    sync.Mutex
	seen  map[string]time.Time
	order []dedupeEntry
}

type dedupeEntry struct {
	key string
	at  time.Time
}

// NewDedupeCache creates a cache.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:  ttl,
		max:  max,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// IsDuplicate records key and reports whether it was already present and
// unexpired. An empty key is never a duplicate.
func (c *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return true
	}

	c.seen[key] = now
	c.order = append(c.order, dedupeEntry{key: key, at: now})

	for len(c.order) > 0 {
		e := c.order[0]
		if now.Sub(e.at) < c.ttl && len(c.seen) <= c.max {
			break
		}
		c.order = c.order[1:]
		// Only the latest recording of a key owns the map entry.
		if c.seen[e.key].Equal(e.at) {
			delete(c.seen, e.key)
		}
	}
	return false
}

// Len returns the number of tracked keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
