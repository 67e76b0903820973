package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	url        TEXT,
	body       TEXT,
	comment    TEXT,
	summary    TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS item_tags (
	item_id  TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	tag_id   TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	PRIMARY KEY (item_id, tag_id)
);

CREATE TABLE IF NOT EXISTS links (
	a_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	b_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	PRIMARY KEY (a_id, b_id),
	CHECK (a_id < b_id)
);

CREATE TABLE IF NOT EXISTS blobs (
	id           TEXT PRIMARY KEY,
	item_id      TEXT NOT NULL UNIQUE REFERENCES items(id) ON DELETE CASCADE,
	source_uri   TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	content_type TEXT NOT NULL,
	local_path   TEXT NOT NULL,
	managed      INTEGER NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_item_tags_tag ON item_tags(tag_id);
CREATE INDEX IF NOT EXISTS idx_links_b ON links(b_id);
CREATE INDEX IF NOT EXISTS idx_items_created ON items(created_at);
`

// SQLite implements Store on a SQLite database.
//
// Writes are serialized by mu; reads go straight to the connection pool.
type SQLite struct {
	conn   *sql.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{conn: conn, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}
