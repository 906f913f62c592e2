package store

import (
	"errors"
	"strings"
	"time"

	"membot/pkg/logx"
)

// Config configures the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (the default and only driver)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default

	// PendingLimit caps concurrently pending broadcasts. 0 means default (12).
	PendingLimit int
}

// DefaultPendingLimit bounds how many broadcasts may be pending at once.
const DefaultPendingLimit = 12

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
