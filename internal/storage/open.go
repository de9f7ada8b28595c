package storage

import (
	"errors"
	"strings"

	"relaybot/pkg/logx"
)

// Open initializes the configured store. The result is never nil on success:
// disabling persistence ("none") yields an in-memory store, so callers wire
// the Store without driver checks.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none", "memory":
		return newMemStore(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
