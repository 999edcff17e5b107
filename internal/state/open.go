package state

import (
	"context"
	"errors"
	"strings"

	logx "tweetrelay/pkg/logx"
)

// Store loads and saves the full LastSeen map.
type Store interface {
	// Load returns an empty map when nothing was persisted yet, and a
	// *CorruptStateError when persisted data cannot be decoded.
	Load(ctx context.Context) (LastSeen, error)
	// Save replaces the persisted state with s.
	Save(ctx context.Context, s LastSeen) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("state path is required")
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown state driver: " + driver)
	}
}
