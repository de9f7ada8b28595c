//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/internal/domain"
	"relaybot/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id   INTEGER PRIMARY KEY,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pending (
	user_id INTEGER PRIMARY KEY,
	body    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dedup (
	key   TEXT PRIMARY KEY,
	until INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dedup_until ON dedup(until);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- channels ----

func (s *sqliteStore) GetChannel(ctx context.Context, channelID int64) (*domain.Channel, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM channels WHERE id = ?`, channelID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ch domain.Channel
	if err := json.Unmarshal([]byte(body), &ch); err != nil {
		return nil, fmt.Errorf("decode channel %d: %w", channelID, err)
	}
	return &ch, nil
}

func (s *sqliteStore) PutChannel(ctx context.Context, ch *domain.Channel) error {
	if ch == nil {
		return errors.New("nil channel")
	}
	if err := ch.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channels(id, body) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET body=excluded.body`,
		ch.ID, string(body),
	)
	return err
}

func (s *sqliteStore) ListChannels(ctx context.Context) ([]*domain.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM channels ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Channel
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var ch domain.Channel
		if err := json.Unmarshal([]byte(body), &ch); err != nil {
			s.log.Warn("skipping undecodable channel row", logx.Err(err))
			continue
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteChannel(ctx context.Context, channelID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, channelID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- pending ----

func (s *sqliteStore) PutPending(ctx context.Context, op domain.PendingOperation) error {
	body, err := json.Marshal(op)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending(user_id, body) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET body=excluded.body`,
		op.UserID, string(body),
	)
	return err
}

func (s *sqliteStore) GetPending(ctx context.Context, userID int64) (domain.PendingOperation, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM pending WHERE user_id = ?`, userID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingOperation{}, false, nil
	}
	if err != nil {
		return domain.PendingOperation{}, false, err
	}
	var op domain.PendingOperation
	if err := json.Unmarshal([]byte(body), &op); err != nil {
		return domain.PendingOperation{}, false, err
	}
	return op, true, nil
}

func (s *sqliteStore) DeletePending(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending WHERE user_id = ?`, userID)
	return err
}

// ---- dedup ----

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}
