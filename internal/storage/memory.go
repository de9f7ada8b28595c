package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// memStore keeps all records in process memory. It backs the "none" driver:
// deployments that opt out of persistence still get a fully working store,
// they just lose channels, dedup marks and pending operations on restart.
type memStore struct {
	mu       sync.Mutex
	channels map[int64]*domain.Channel
	pending  map[int64]domain.PendingOperation
	dedup    map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		channels: map[int64]*domain.Channel{},
		pending:  map[int64]domain.PendingOperation{},
		dedup:    map[string]time.Time{},
	}
}

func (s *memStore) GetChannel(ctx context.Context, channelID int64) (*domain.Channel, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return ch.Clone(), nil
}

func (s *memStore) PutChannel(ctx context.Context, ch *domain.Channel) error {
	_ = ctx
	if ch == nil {
		return errors.New("nil channel")
	}
	if err := ch.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch.Clone()
	return nil
}

func (s *memStore) ListChannels(ctx context.Context) ([]*domain.Channel, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.Clone())
	}
	return out, nil
}

func (s *memStore) DeleteChannel(ctx context.Context, channelID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return ErrNotFound
	}
	delete(s.channels, channelID)
	return nil
}

func (s *memStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until
	if len(s.dedup)%1000 == 0 {
		now := time.Now()
		for k, v := range s.dedup {
			if v.Before(now) {
				delete(s.dedup, k)
			}
		}
	}
	return nil
}

func (s *memStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.dedup[key]
	return until, ok, nil
}

func (s *memStore) PutPending(ctx context.Context, op domain.PendingOperation) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[op.UserID] = op
	return nil
}

func (s *memStore) GetPending(ctx context.Context, userID int64) (domain.PendingOperation, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.pending[userID]
	return op, ok, nil
}

func (s *memStore) DeletePending(ctx context.Context, userID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
	return nil
}

func (s *memStore) Close() error { return nil }
