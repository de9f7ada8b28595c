// Package ratelimit provides per-user admission control over a rolling
// fixed window. It gates user configuration actions, not the post stream.
package ratelimit

import (
	"sync"
	"time"
)

type Config struct {
	// Window is the admission window duration.
	Window time.Duration
	// MaxRequests is the number of requests allowed per window per user.
	MaxRequests int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 20
	}
	return c
}

type window struct {
	count   int
	resetAt time.Time
}

const shardCount = 16

// shard keys by userID so unrelated users never contend on one lock.
type shard struct {
	mu sync.Mutex
	m  map[int64]*window
}

// Limiter tracks one fixed window per user.
//
// Denial is non-fatal: the caller surfaces a "slow down" response and drops
// the action. Memory is bounded by Sweep, which the maintenance service runs
// periodically.
type Limiter struct {
	cfgMu sync.Mutex
	cfg   Config

	shards [shardCount]shard
}

func New(cfg Config) *Limiter {
	l := &Limiter{cfg: cfg.withDefaults()}
	for i := range l.shards {
		l.shards[i].m = make(map[int64]*window)
	}
	return l
}

// Apply swaps the window/threshold at runtime. Existing windows keep their
// reset time; the new threshold takes effect immediately.
func (l *Limiter) Apply(cfg Config) {
	l.cfgMu.Lock()
	l.cfg = cfg.withDefaults()
	l.cfgMu.Unlock()
}

func (l *Limiter) config() Config {
	l.cfgMu.Lock()
	defer l.cfgMu.Unlock()
	return l.cfg
}

func (l *Limiter) shardFor(userID int64) *shard {
	return &l.shards[uint64(userID)%shardCount]
}

// Allow reports whether the user's action is admitted, counting the attempt.
// The first request for a user, or the first after the prior window elapsed,
// starts a fresh window.
func (l *Limiter) Allow(userID int64) bool {
	return l.allowAt(time.Now(), userID)
}

func (l *Limiter) allowAt(now time.Time, userID int64) bool {
	cfg := l.config()
	sh := l.shardFor(userID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w := sh.m[userID]
	if w == nil || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(cfg.Window)}
		sh.m[userID] = w
	}
	w.count++
	return w.count <= cfg.MaxRequests
}

// Sweep drops entries whose window elapsed with no activity since.
// Returns the number of entries removed.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		for id, w := range sh.m {
			if !now.Before(w.resetAt) {
				delete(sh.m, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len reports the number of live windows (diagnostics).
func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}
