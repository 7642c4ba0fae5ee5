// Package events keeps a local audit trail of job, task, and worker events
// in an embedded SQLite database. The trail is observability only; writes
// are best-effort from the scheduler's point of view.
package events

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// DefaultPath returns ~/.dispatch/events.db, creating the directory if needed.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".dispatch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "events.db"), nil
}

// Open opens or creates the database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id    TEXT NOT NULL,
    task_id   TEXT,
    event     TEXT NOT NULL,
    attempt   INTEGER,
    detail    TEXT,
    timestamp TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_job_events ON job_events(job_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_job_events_task ON job_events(job_id, task_id);
`

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Event is one row in the audit trail.
type Event struct {
	ID        int64
	JobID     string
	TaskID    string
	Event     string
	Attempt   int
	Detail    string
	Timestamp string
}

// Log appends an event.
func (d *DB) Log(jobID, taskID, event string, attempt int, detail string) error {
	_, err := d.conn.Exec(`
INSERT INTO job_events (job_id, task_id, event, attempt, detail)
VALUES (?, ?, ?, ?, ?)`, jobID, taskID, event, attempt, detail)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// Recent returns up to limit events for a job, newest first. An empty jobID
// returns events across all jobs.
func (d *DB) Recent(jobID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, job_id, COALESCE(task_id, ''), event, COALESCE(attempt, 0), COALESCE(detail, ''), timestamp
FROM job_events`
	args := []any{}
	if jobID != "" {
		query += " WHERE job_id = ?"
		args = append(args, jobID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.JobID, &e.TaskID, &e.Event, &e.Attempt, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
