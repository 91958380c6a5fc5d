// Package store manages the SQLite database that holds the offline
// appointment queue and its sync markers as opaque key-value blobs.
//
// Only this package may open or query the database. All other packages
// receive a [KV] and call its methods; the queue repository is the sole
// writer of the queue blob.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);
`

// KV is the persistence contract consumed by the queue repository.
// Get returns (nil, nil) for absent keys; absence is not an error.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
}

// SQLite is the durable [KV] implementation. Create one with [Open].
type SQLite struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the queue database:
// ~/.local/share/citasync/queue.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "citasync", "queue.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Get returns the blob stored under key, or (nil, nil) if the key is absent.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT value FROM kv WHERE key = ?`
	var value []byte
	err := s.db.QueryRowContext(ctx, q, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("reading key %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous blob.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	const q = `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		    value      = excluded.value,
		    updated_at = excluded.updated_at`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, q, key, value, now); err != nil {
		return fmt.Errorf("writing key %q: %w", key, err)
	}
	return nil
}

// Remove deletes the given keys. Missing keys are ignored.
func (s *SQLite) Remove(ctx context.Context, keys ...string) error {
	const q = `DELETE FROM kv WHERE key = ?`
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, q, key); err != nil {
			return fmt.Errorf("removing key %q: %w", key, err)
		}
	}
	return nil
}
