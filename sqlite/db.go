// Package sqlite stores executions, memory and definitions in a single
// SQLite database file using the pure Go modernc.org/sqlite driver.
//
// The database is opened with one connection, which serializes writers in
// the process and makes ":memory:" databases usable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/autopilot/slogger"
	homedir "github.com/mitchellh/go-homedir"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id                 TEXT PRIMARY KEY,
	definition_id      TEXT NOT NULL,
	definition_version INTEGER NOT NULL DEFAULT 0,
	input              TEXT NOT NULL DEFAULT '{}',
	org_id             TEXT NOT NULL DEFAULT '',
	user_id            TEXT NOT NULL DEFAULT '',
	subject_id         TEXT NOT NULL DEFAULT '',
	org_prompt         TEXT NOT NULL DEFAULT '',
	trigger_type       TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	summary            TEXT NOT NULL DEFAULT '',
	error              TEXT NOT NULL DEFAULT '',
	usage              TEXT NOT NULL DEFAULT '{}',
	duration_ms        INTEGER NOT NULL DEFAULT 0,
	started_at         TEXT NOT NULL,
	completed_at       TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_definition ON executions(definition_id, started_at);

CREATE TABLE IF NOT EXISTS execution_steps (
	execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
	idx          INTEGER NOT NULL,
	step         TEXT NOT NULL,
	PRIMARY KEY (execution_id, idx)
);

CREATE TABLE IF NOT EXISTS memories (
	org_id        TEXT NOT NULL,
	definition_id TEXT NOT NULL,
	subject_id    TEXT NOT NULL,
	memory        TEXT NOT NULL,
	run_count     INTEGER NOT NULL,
	last_run_at   TEXT NOT NULL,
	PRIMARY KEY (org_id, definition_id, subject_id)
);

CREATE TABLE IF NOT EXISTS definitions (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// DB is an open autopilot database.
type DB struct {
	db     *sql.DB
	logger slogger.Logger
	now    func() time.Time
}

// Open opens or creates the database at path and applies the schema. A
// leading ~ in path is expanded to the home directory.
func Open(ctx context.Context, path string, logger slogger.Logger) (*DB, error) {
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	if path != ":memory:" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: expand %s: %w", path, err)
		}
		path = expanded
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	logger.Debug("sqlite database opened", "path", path)
	return &DB{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Ledger returns the execution ledger.
func (d *DB) Ledger() *Ledger {
	return &Ledger{db: d.db, now: d.now}
}

// Memory returns the memory store.
func (d *DB) Memory() *MemoryStore {
	return &MemoryStore{db: d.db, now: d.now}
}

// Definitions returns the definition store.
func (d *DB) Definitions() *DefinitionStore {
	return &DefinitionStore{db: d.db, now: d.now}
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
