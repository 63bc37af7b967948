package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "postpilot/pkg/logx"
)

var ErrDisabled = errors.New("audit storage disabled")

// Config configures the audit store.
//
// Driver values:
//   - "file": dependency-free JSONL append log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the audit store is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AttemptRecord records one publish attempt outcome.
// Keep it compact and schema-stable.
type AttemptRecord struct {
	At       time.Time `json:"at"`
	JobID    string    `json:"job_id"`
	GroupRef string    `json:"group_ref"`
	Attempt  int       `json:"attempt"`
	Status   string    `json:"status"`
	TookMS   int64     `json:"took_ms"`
	Error    string    `json:"error,omitempty"`
	PostRef  string    `json:"post_ref,omitempty"`
}

// Store is the audit persistence API used by the dispatcher.
type Store interface {
	AppendAttempt(ctx context.Context, r AttemptRecord) error
	RecentAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
	Close() error
}

// Open initializes the configured audit store.
// It returns (nil, nil) if the store is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown audit driver: " + driver)
	}
}
