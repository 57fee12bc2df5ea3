package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     TEXT    NOT NULL,
	name        TEXT,
	priority    INTEGER NOT NULL,
	outcome     TEXT    NOT NULL,
	retry_count INTEGER NOT NULL,
	worker      INTEGER NOT NULL,
	started     TEXT    NOT NULL,
	duration_ms INTEGER NOT NULL,
	err         TEXT
);
CREATE INDEX IF NOT EXISTS task_history_task ON task_history(task_id);
`

// SQLite stores entries in a single table and prunes it to a maximum size.
type SQLite struct {
	db   *sql.DB
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string, keep int) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	if keep <= 0 {
		keep = 10000
	}
	return &SQLite{db: db, keep: keep, pruneEvery: 500}, nil
}

func (s *SQLite) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_history(task_id, name, priority, outcome, retry_count, worker, started, duration_ms, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.TaskID, nullStr(e.Name), e.Priority, e.Outcome, e.RetryCount, e.Worker,
		e.Started.UTC().Format(time.RFC3339Nano), e.Duration.Milliseconds(), nullStr(e.Error),
	)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		if err := s.prune(ctx); err != nil {
			return fmt.Errorf("history: prune: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.keep
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, name, priority, outcome, retry_count, worker, started, duration_ms, err
		 FROM task_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			name     sql.NullString
			started  string
			duration int64
			errStr   sql.NullString
		)
		if err := rows.Scan(&e.TaskID, &name, &e.Priority, &e.Outcome, &e.RetryCount, &e.Worker, &started, &duration, &errStr); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Name = name.String
		e.Error = errStr.String
		e.Duration = time.Duration(duration) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			e.Started = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM task_history WHERE id <= (SELECT MAX(id) FROM task_history) - ?`, s.keep)
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
