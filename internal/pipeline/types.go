package pipeline

import (
	"context"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/fanout"
)

type Config struct {
	// Timeout bounds one post's end-to-end processing. On expiry,
	// outstanding deliveries are cancelled and reported as failed.
	Timeout time.Duration
	// DedupSize / DedupWindow bound the recent-post cache.
	DedupSize   int
	DedupWindow time.Duration
	// MaxSummaryTokens caps AI summary length. 0 keeps the provider default.
	MaxSummaryTokens int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.DedupSize <= 0 {
		c.DedupSize = 4096
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 24 * time.Hour
	}
	return c
}

// Stage is the per-post state machine position reached when processing
// finished. Every outcome ends at StageDone; the earlier stages show up in
// logs and events only.
type Stage string

const (
	StageReceived   Stage = "received"
	StageDedupCheck Stage = "dedup_check"
	StageRuled      Stage = "ruled"
	StageEnriched   Stage = "enriched"
	StageDispatched Stage = "dispatched"
	StageDone       Stage = "done"
)

// Outcome is the aggregate result of processing one post. It is always
// returned, never thrown: operational failures inside enrichment or dispatch
// degrade the outcome instead of aborting it.
type Outcome struct {
	Post domain.ChannelPost

	// Duplicate: the post was already processed; everything else is zero.
	Duplicate bool
	// Filtered: the keyword filter produced an empty plan; dropped silently.
	Filtered bool
	// Degraded: at least one enrichment step fell back to unenriched text.
	Degraded bool

	Results  map[int64]fanout.Result
	Duration time.Duration
}

// Delivered counts successful legs.
func (o Outcome) Delivered() int {
	n := 0
	for _, r := range o.Results {
		if r.OK {
			n++
		}
	}
	return n
}

// Failed counts failed legs.
func (o Outcome) Failed() int {
	return len(o.Results) - o.Delivered()
}

// ChannelSource resolves a channel's current configuration. Backed by the
// configuration store; channels are read-only inside the pipeline.
type ChannelSource interface {
	GetChannel(ctx context.Context, channelID int64) (*domain.Channel, error)
}

// DedupStore is the optional durable dedup collaborator. When present,
// processed-post marks survive restarts; without it the in-memory cache
// alone bounds reprocessing.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

// Event types published on the bus.
const (
	EventProcessed = "post.processed"
	EventDuplicate = "post.duplicate"
	EventFiltered  = "post.filtered"
)

// ProcessedEvent is the bus payload for EventProcessed.
type ProcessedEvent struct {
	ChannelID int64         `json:"channel_id"`
	MessageID int           `json:"message_id"`
	Degraded  bool          `json:"degraded"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}
