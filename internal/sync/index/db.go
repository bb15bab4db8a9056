package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_sessions (
	namespace TEXT PRIMARY KEY,
	app_path TEXT NOT NULL,
	local_root TEXT NOT NULL,
	remote_root_id TEXT,
	conflict_policy TEXT NOT NULL,
	last_sync_time INTEGER
);

CREATE TABLE IF NOT EXISTS change_cursors (
	namespace TEXT PRIMARY KEY,
	next_change_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	namespace TEXT NOT NULL,
	is_dir INTEGER NOT NULL DEFAULT 0,
	path TEXT NOT NULL,
	local_path TEXT,
	remote_id TEXT,
	parent_id TEXT,
	last_modified TEXT,
	sync_status TEXT,
	content_hash TEXT,
	updated_at INTEGER,
	PRIMARY KEY (namespace, is_dir, path)
);

CREATE INDEX IF NOT EXISTS idx_cache_remote_id ON cache_entries(namespace, remote_id);
CREATE INDEX IF NOT EXISTS idx_cache_status ON cache_entries(namespace, sync_status);
`
