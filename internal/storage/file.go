package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.channels.json       (atomic snapshot, rewritten on change)
//   - <prefix>.pending.json        (atomic snapshot, rewritten on change)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// The dedup journal is periodically compacted into its snapshot. Channel and
// pending snapshots are rewritten atomically via rename; both data sets are
// small enough that a full rewrite per mutation is cheaper than journaling.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	channelsPath string
	channels     map[int64]*domain.Channel

	pendingPath string
	pending     map[int64]domain.PendingOperation

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli

	dedupWrites int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		channelsPath:      prefix + ".channels.json",
		pendingPath:       prefix + ".pending.json",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
		channels:          map[int64]*domain.Channel{},
		pending:           map[int64]domain.PendingOperation{},
		dedup:             map[string]int64{},
	}

	_ = loadJSONSnapshot(s.channelsPath, &s.channels)
	_ = loadJSONSnapshot(s.pendingPath, &s.pending)

	journalPath := prefix + ".dedup.journal.jsonl"
	_ = loadJSONSnapshot(s.dedupSnapshotPath, &s.dedup)
	_ = replayDedupJournal(journalPath, s.dedup)
	pruneExpiredDedup(s.dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.dedupJournalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile != nil {
		err := s.dedupJournalFile.Close()
		s.dedupJournalFile = nil
		return err
	}
	return nil
}

// ---- channels ----

func (s *fileStore) GetChannel(ctx context.Context, channelID int64) (*domain.Channel, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return ch.Clone(), nil
}

func (s *fileStore) PutChannel(ctx context.Context, ch *domain.Channel) error {
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
	return writeJSONSnapshot(s.channelsPath, s.channels)
}

func (s *fileStore) ListChannels(ctx context.Context) ([]*domain.Channel, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.Clone())
	}
	return out, nil
}

func (s *fileStore) DeleteChannel(ctx context.Context, channelID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return ErrNotFound
	}
	delete(s.channels, channelID)
	return writeJSONSnapshot(s.channelsPath, s.channels)
}

// ---- pending ----

func (s *fileStore) PutPending(ctx context.Context, op domain.PendingOperation) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[op.UserID] = op
	return writeJSONSnapshot(s.pendingPath, s.pending)
}

func (s *fileStore) GetPending(ctx context.Context, userID int64) (domain.PendingOperation, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.pending[userID]
	return op, ok, nil
}

func (s *fileStore) DeletePending(ctx context.Context, userID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[userID]; !ok {
		return nil
	}
	delete(s.pending, userID)
	return writeJSONSnapshot(s.pendingPath, s.pending)
}

// ---- dedup ----

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	s.dedup[key] = ms

	enc := json.NewEncoder(s.dedupJournalFile)
	if err := enc.Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.dedup)

	if err := writeJSONSnapshot(s.dedupSnapshotPath, s.dedup); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.dedupJournalFile.Seek(0, 2)
	return err
}

// ---- helpers ----

func loadJSONSnapshot(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

func writeJSONSnapshot(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return s.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
