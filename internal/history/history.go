// Package history keeps a record of finished dispatch attempts for operators.
//
// This is an audit trail of outcomes, not a task store: nothing here is read
// back into the scheduler, and pending tasks are never persisted.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome labels stored with every entry.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("history: unknown driver")

// Entry describes one finished attempt.
type Entry struct {
	TaskID     string        `json:"task_id"`
	Name       string        `json:"name,omitempty"`
	Priority   int           `json:"priority"`
	Outcome    string        `json:"outcome"`
	RetryCount int           `json:"retry_count"`
	Worker     int           `json:"worker"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Store records entries and returns the most recent ones, newest first.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Config selects a store.
type Config struct {
	Driver string // none|memory|sqlite
	Path   string // sqlite database file
	Size   int    // memory ring capacity; sqlite keeps this many rows
}

// Open builds the configured store. It returns (nil, nil) when history is
// disabled.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemory(cfg.Size), nil
	case "sqlite", "sqlite3":
		st, err := OpenSQLite(cfg.Path, cfg.Size)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
