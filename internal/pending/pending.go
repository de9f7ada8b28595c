// Package pending tracks at most one active multi-step configuration
// operation per user, with expiry.
//
// It replaces what used to be an unsynchronized shared list: all mutation for
// a given user happens under per-key exclusion, so overlapping chat events
// from the same user cannot interleave into duplicated or corrupted state.
package pending

import (
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/pkg/logx"
)

type Config struct {
	// TTL bounds how long a begun operation stays claimable.
	TTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	return c
}

const shardCount = 16

type shard struct {
	mu sync.Mutex
	m  map[int64]domain.PendingOperation
}

// Tracker is the keyed TTL store for in-flight user operations.
type Tracker struct {
	cfgMu sync.Mutex
	cfg   Config

	log    logx.Logger
	shards [shardCount]shard
}

func New(cfg Config, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Tracker{cfg: cfg.withDefaults(), log: log}
	for i := range t.shards {
		t.shards[i].m = make(map[int64]domain.PendingOperation)
	}
	return t
}

// Apply swaps the TTL at runtime. Already-begun operations keep the expiry
// they were created with.
func (t *Tracker) Apply(cfg Config) {
	t.cfgMu.Lock()
	t.cfg = cfg.withDefaults()
	t.cfgMu.Unlock()
}

func (t *Tracker) ttl() time.Duration {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	return t.cfg.TTL
}

func (t *Tracker) shardFor(userID int64) *shard {
	return &t.shards[uint64(userID)%shardCount]
}

// Begin starts a new operation for the user, unconditionally replacing any
// existing non-expired one (last writer wins; the previous operation is
// discarded, not merged).
func (t *Tracker) Begin(userID int64, kind domain.OperationKind, channelID int64) domain.PendingOperation {
	now := time.Now()
	op := domain.PendingOperation{
		UserID:    userID,
		Kind:      kind,
		ChannelID: channelID,
		CreatedAt: now,
		ExpiresAt: now.Add(t.ttl()),
	}

	sh := t.shardFor(userID)
	sh.mu.Lock()
	if prev, ok := sh.m[userID]; ok && !prev.Expired(now) {
		t.log.Debug("pending operation replaced",
			logx.Int64("user_id", userID),
			logx.String("prev_kind", string(prev.Kind)),
			logx.String("kind", string(kind)))
	}
	sh.m[userID] = op
	sh.mu.Unlock()
	return op
}

// Get returns the user's live operation. A lazily-expired entry is evicted on
// read and reported as absent.
func (t *Tracker) Get(userID int64) (domain.PendingOperation, bool) {
	now := time.Now()
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	op, ok := sh.m[userID]
	if !ok {
		return domain.PendingOperation{}, false
	}
	if op.Expired(now) {
		delete(sh.m, userID)
		return domain.PendingOperation{}, false
	}
	return op, true
}

// Complete clears the user's entry regardless of expiry state.
func (t *Tracker) Complete(userID int64) {
	sh := t.shardFor(userID)
	sh.mu.Lock()
	delete(sh.m, userID)
	sh.mu.Unlock()
}

// Sweep evicts expired entries. The maintenance service runs this
// periodically so memory stays bounded even for users who never come back.
func (t *Tracker) Sweep(now time.Time) int {
	removed := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		for id, op := range sh.m {
			if op.Expired(now) {
				delete(sh.m, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		t.log.Debug("pending sweep", logx.Int("removed", removed))
	}
	return removed
}

// Len reports the number of live entries (diagnostics).
func (t *Tracker) Len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}
