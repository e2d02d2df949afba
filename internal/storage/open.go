// Package storage persists the bot's durable data: the follow/channel state
// snapshot, recently notified replay ids, and an audit trail of operator
// commands. Two backends are provided; both give the same crash-safety
// contract (a snapshot write is all-or-nothing from a reader's perspective).
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"genwatch/internal/state"
	"genwatch/pkg/logx"
)

// Store is the persistence API used by the engine.
type Store interface {
	// LoadState returns the persisted snapshot, or (nil, nil) when no state
	// has been written yet.
	LoadState(ctx context.Context) (*state.Snapshot, error)
	SaveState(ctx context.Context, snap *state.Snapshot) error

	LoadDedup(ctx context.Context) (map[string]time.Time, error)
	SaveDedup(ctx context.Context, entries map[string]time.Time) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
