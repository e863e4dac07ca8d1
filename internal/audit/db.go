// Package audit provides the SQLite-backed system of record. Every task
// transition, review result, and consensus decision is persisted, keyed by
// change lineage, so the full decision history of any change is
// reconstructable and the coordinator can recover in-flight work after a
// crash.
package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps an SQLite database connection with audit operations.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the database path under the XDG data directory.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "noode", "noode.db")
}

// Open opens the store at the given path, creating parent directories and
// applying pending migrations. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// migrate applies all pending schema migrations.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2Changes},
		{3, migrationV3Reviews},
		{4, migrationV4Requests},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	change_id TEXT,
	title TEXT,
	capability TEXT NOT NULL,
	priority TEXT NOT NULL,
	depends_on TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	assigned_to TEXT,
	submitted_at TEXT,
	seq INTEGER NOT NULL DEFAULT 0,
	completed_at TEXT,
	result TEXT,
	error TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	abandon_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_request_id ON tasks(request_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS task_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor TEXT,
	at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_transitions_task_id ON task_transitions(task_id);
`

const migrationV2Changes = `
CREATE TABLE IF NOT EXISTS changes (
	id TEXT PRIMARY KEY,
	lineage_id TEXT NOT NULL,
	tier INTEGER NOT NULL,
	state TEXT NOT NULL,
	iteration INTEGER NOT NULL DEFAULT 1,
	task_ids TEXT,
	domains TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_changes_lineage_id ON changes(lineage_id);
CREATE INDEX IF NOT EXISTS idx_changes_state ON changes(state);
`

const migrationV3Reviews = `
CREATE TABLE IF NOT EXISTS review_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	change_id TEXT NOT NULL,
	iteration INTEGER NOT NULL,
	reviewer TEXT NOT NULL,
	verdict TEXT NOT NULL,
	justification TEXT,
	condition TEXT,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_results_change_id ON review_results(change_id);

CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	change_id TEXT NOT NULL,
	lineage_id TEXT NOT NULL,
	iteration INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	conditional INTEGER NOT NULL DEFAULT 0,
	conditions TEXT,
	reason TEXT,
	results TEXT,
	decided_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_lineage_id ON decisions(lineage_id);
CREATE INDEX IF NOT EXISTS idx_decisions_decided_at ON decisions(decided_at);
`

const migrationV4Requests = `
CREATE TABLE IF NOT EXISTS work_requests (
	id TEXT PRIMARY KEY,
	metadata TEXT,
	created_at TEXT NOT NULL
);
`

// formatTime renders a timestamp for storage. Zero times store as empty.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime is the inverse of formatTime.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
