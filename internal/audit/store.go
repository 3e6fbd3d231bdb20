// Package audit records every gated file operation in a local SQLite
// database. The trail answers "which session touched which path, when, and
// did the validator allow it", useful both for debugging a misbehaving tool
// and for reviewing what an agent actually did to a project.
//
// Recording is best-effort by design: a failed audit insert is logged and
// swallowed, never surfaced to the file operation it describes.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"atelier/internal/logging"
)

// Op identifies the kind of gated file operation.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
	OpList  Op = "list"
)

// Event is one audited file operation.
type Event struct {
	SessionID string
	Op        Op
	Path      string // path as requested by the caller
	Resolved  string // canonical path, empty when validation failed
	Success   bool
	Denied    bool // true when the validator rejected the path
	Error     string
	Bytes     int
	Timestamp time.Time
}

// Store is the SQLite-backed audit trail. Safe for concurrent use.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS file_audit (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    op         TEXT NOT NULL,
    path       TEXT NOT NULL,
    resolved   TEXT,
    success    INTEGER NOT NULL,
    denied     INTEGER NOT NULL,
    error      TEXT,
    bytes      INTEGER NOT NULL DEFAULT 0,
    ts         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_audit_session ON file_audit(session_id);
CREATE INDEX IF NOT EXISTS idx_file_audit_ts ON file_audit(ts);
`

// NewStore opens (creating if necessary) the audit database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	logging.Audit("audit store opened at %s", path)
	return &Store{db: db}, nil
}

// Record inserts an event. Errors are logged, not returned; see package doc.
func (s *Store) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO file_audit (session_id, op, path, resolved, success, denied, error, bytes, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Op), e.Path, e.Resolved,
		boolToInt(e.Success), boolToInt(e.Denied), e.Error, e.Bytes,
		e.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		logging.Get(logging.CategoryAudit).Error("failed to record audit event: %v", err)
	}
}

// BySession returns the most recent events for a session, newest first.
func (s *Store) BySession(sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT session_id, op, path, resolved, success, denied, error, bytes, ts
		 FROM file_audit WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Denials returns recent validator rejections across all sessions.
func (s *Store) Denials(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT session_id, op, path, resolved, success, denied, error, bytes, ts
		 FROM file_audit WHERE denied = 1 ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query denials: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Prune deletes events older than cutoff and returns how many were removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM file_audit WHERE ts < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Audit("pruned %d audit events older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			e               Event
			success, denied int
			ts              string
		)
		if err := rows.Scan(&e.SessionID, (*string)(&e.Op), &e.Path, &e.Resolved,
			&success, &denied, &e.Error, &e.Bytes, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.Success = success == 1
		e.Denied = denied == 1
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
