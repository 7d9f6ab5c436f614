// Package index persists parsed annotations, review states and capture stats
// in SQLite, with optional FTS5 full-text search over annotation text.
package index

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path        TEXT PRIMARY KEY,
	stamp       INTEGER NOT NULL,
	created_at  INTEGER NOT NULL DEFAULT 0,
	annotations TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS annotations (
	document     TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE,
	line         INTEGER NOT NULL,
	key          TEXT NOT NULL,
	identity     TEXT NOT NULL DEFAULT '',
	color        TEXT NOT NULL DEFAULT '',
	clean_text   TEXT NOT NULL,
	is_flashcard INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_annotations_document ON annotations(document);
CREATE INDEX IF NOT EXISTS idx_annotations_identity ON annotations(identity);

CREATE TABLE IF NOT EXISTS review_states (
	identity      TEXT PRIMARY KEY,
	last_reviewed INTEGER NOT NULL DEFAULT 0,
	interval_days REAL NOT NULL DEFAULT 0,
	ease          REAL NOT NULL DEFAULT 2.5
);

CREATE TABLE IF NOT EXISTS stats (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	marginalias_created INTEGER NOT NULL DEFAULT 0,
	xp                  INTEGER NOT NULL DEFAULT 0,
	level               INTEGER NOT NULL DEFAULT 1
);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// millis stores t as unix milliseconds, with 0 for the zero time.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
