package pipeline

import (
	"sync"
	"time"
)

// dedupCache is the bounded recent-post cache backing DEDUP_CHECK.
//
// Expired entries are dropped lazily on access and by an occasional full
// sweep, so the map never scans on the hot path. When the cache is full the
// oldest entries go first.
type dedupCache struct {
	mu sync.Mutex

	max    int
	window time.Duration

	m           map[string]time.Time // key -> expiry
	nextCleanup time.Time
}

const dedupCleanupInterval = time.Minute

func newDedupCache(max int, window time.Duration) *dedupCache {
	if max <= 0 {
		max = 4096
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &dedupCache{
		max:    max,
		window: window,
		m:      make(map[string]time.Time, max/4),
	}
}

// Seen reports whether key is in the cache and still live.
func (c *dedupCache) Seen(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp, ok := c.m[key]
	if !ok {
		return false
	}
	if now.After(exp) {
		delete(c.m, key)
		return false
	}
	return true
}

// Mark records key as processed.
func (c *dedupCache) Mark(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeCleanupLocked(now)
	if len(c.m) >= c.max {
		c.evictOldestLocked()
	}
	c.m[key] = now.Add(c.window)
}

// Sweep drops expired entries; run by the maintenance service.
func (c *dedupCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now)
}

func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *dedupCache) maybeCleanupLocked(now time.Time) {
	if now.Before(c.nextCleanup) {
		return
	}
	c.nextCleanup = now.Add(dedupCleanupInterval)
	c.sweepLocked(now)
}

func (c *dedupCache) sweepLocked(now time.Time) int {
	removed := 0
	for k, exp := range c.m {
		if now.After(exp) {
			delete(c.m, k)
			removed++
		}
	}
	return removed
}

// evictOldestLocked frees roughly 10% of capacity by expiry order.
func (c *dedupCache) evictOldestLocked() {
	n := c.max / 10
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		var oldestKey string
		var oldestExp time.Time
		for k, exp := range c.m {
			if oldestKey == "" || exp.Before(oldestExp) {
				oldestKey, oldestExp = k, exp
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.m, oldestKey)
	}
}
