// Package index caches the last synced state of opened tiddlers in SQLite,
// with optional FTS5 full-text search for offline lookups.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS tiddlers (
	title     TEXT PRIMARY KEY,
	type      TEXT NOT NULL DEFAULT '',
	tags      TEXT NOT NULL DEFAULT '[]',
	modified  TEXT NOT NULL DEFAULT '',
	checksum  TEXT NOT NULL DEFAULT '',
	body      TEXT NOT NULL DEFAULT '',
	synced_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS links (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	UNIQUE(source, target)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON links(source);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);
CREATE INDEX IF NOT EXISTS idx_tiddlers_synced ON tiddlers(synced_at);
`

// DB wraps a sql.DB with cache-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
// ":memory:" opens a private in-memory cache.
func Open(dsn string) (*DB, error) {
	source := dsn + "?_journal_mode=WAL&_busy_timeout=5000"
	if dsn == ":memory:" {
		source = "file::memory:?cache=private"
	}
	conn, err := sql.Open("sqlite3", source)
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own database.
		conn.SetMaxOpenConns(1)
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
