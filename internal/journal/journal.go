// Package journal persists Guardian events to a SQLite database so a run can
// be inspected after the process exits.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guardian/internal/guardian"
	"guardian/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL CHECK (kind IN ('created', 'updated', 'completed', 'failed', 'dependency_resolved')),
    task_id TEXT NOT NULL,
    occurred_at TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_task ON events (task_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events (kind);`

// Journal is an append-only event store. It implements guardian.EventSink.
type Journal struct {
	db     *sql.DB
	path   string
	logger logging.Logger
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	TaskID string
	Kinds  []guardian.EventKind
	Limit  int
}

// Open opens or creates the journal at path.
func Open(path string, logger logging.Logger) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	j := &Journal{db: db, path: path, logger: logging.OrNop(logger)}
	j.logger.Debug("Journal: opened %s", path)
	return j, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Notify stores the event. Re-delivering an event id is a no-op.
func (j *Journal) Notify(ctx context.Context, event guardian.Event) error {
	payload := []byte("{}")
	if len(event.Payload) > 0 {
		encoded, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload of %s: %w", event.ID, err)
		}
		payload = encoded
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (id, kind, task_id, occurred_at, payload) VALUES (?, ?, ?, ?, ?)`,
		event.ID, string(event.Kind), event.TaskID, event.Timestamp.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("storing event %s: %w", event.ID, err)
	}
	return nil
}

// List returns stored events oldest first. Payload values come back as
// decoded JSON, so numbers are float64 and lists are []any.
func (j *Journal) List(ctx context.Context, filter Filter) ([]guardian.Event, error) {
	query := `SELECT id, kind, task_id, occurred_at, payload FROM events`
	var (
		where []string
		args  []any
	)
	if filter.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		where = append(where, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []guardian.Event
	for rows.Next() {
		var (
			event      guardian.Event
			kind       string
			occurredAt string
			payload    string
		)
		if err := rows.Scan(&event.ID, &kind, &event.TaskID, &occurredAt, &payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		event.Kind = guardian.EventKind(kind)
		event.Timestamp, err = time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp of %s: %w", event.ID, err)
		}
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
				return nil, fmt.Errorf("decoding payload of %s: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// Count returns the number of stored events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var count int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return count, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
