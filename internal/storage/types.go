package storage

import (
	"context"
	"errors"
	"time"

	"relaybot/internal/domain"
)

var ErrNotFound = errors.New("record not found")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshots + dedup journal)
//   - "sqlite": SQLite database file (optional build tag)
//   - "none" (or empty, or "memory"): in-memory only, nothing survives restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API consumed by the core.
//
// Channel records are the owner-facing configuration; the pipeline reads
// them through a ChannelSource adapter. Dedup marks make post processing
// idempotent across restarts. Pending-operation persistence is optional
// plumbing for deployments that want in-flight operations to survive a
// restart; the tracker works without it.
type Store interface {
	GetChannel(ctx context.Context, channelID int64) (*domain.Channel, error)
	PutChannel(ctx context.Context, ch *domain.Channel) error
	ListChannels(ctx context.Context) ([]*domain.Channel, error)
	DeleteChannel(ctx context.Context, channelID int64) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	PutPending(ctx context.Context, op domain.PendingOperation) error
	GetPending(ctx context.Context, userID int64) (domain.PendingOperation, bool, error)
	DeletePending(ctx context.Context, userID int64) error

	Close() error
}
