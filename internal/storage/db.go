// Package storage provides the durable local persistence layer for matchsync.
//
// A single SQLite database file (embedded, WAL mode) holds four tables:
//
//   - entities:     the local entity store (players, seasons, tournaments, games)
//   - timer_states: per-game running-clock state, keyed by game identifier
//   - sync_queue:   the FIFO log of mutations pending remote confirmation
//   - id_map:       durable local-to-remote identifier mappings
//
// All writes are durable once the call returns: the store is the source of
// truth while the device is offline. Writes to the same database are
// serialized through SQLite's own locking plus a busy timeout, so callers may
// issue operations concurrently (UI writes during a drain are expected).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with the local-store and sync-queue
// operations. One DB instance is shared by the engine, the importer, and the
// stats reporter.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The parent directory is created if missing. The database is opened in
// embedded mode with WAL for concurrent reads. The caller must call Close.
//
// Example:
//
//	db, err := storage.Open(".matchsync/local.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,  -- JSON snapshot of the entity
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	);

	CREATE TABLE IF NOT EXISTS timer_states (
		game_id TEXT PRIMARY KEY,
		elapsed_seconds INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,      -- create, update, delete
		kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload TEXT,          -- JSON snapshot at enqueue time, NULL for delete
		status TEXT NOT NULL DEFAULT 'pending',
		retries INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		enqueued_at TEXT NOT NULL,
		next_attempt_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS id_map (
		local_id TEXT PRIMARY KEY,
		remote_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind, created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status, id);
	CREATE INDEX IF NOT EXISTS idx_queue_entity ON sync_queue(entity_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
