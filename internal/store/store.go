// Package store provides the local durable key-value store backing the
// offline queue and the staged-attachment blob bucket.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/timberline/fleetsync/internal/errors"
)

// Store wraps a SQLite database holding two buckets: kv for queue
// snapshots (one row per key, replace-whole-value-on-write) and blobs for
// staged attachment bodies. Write failures are surfaced to the caller;
// a swallowed failure here would mean silent data loss.
type Store struct {
	db *sql.DB
}

// Open opens the local store under dataDir, creating it if needed.
// The database is opened with WAL mode and a single writer connection.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, "fleetsync.db")

	// Pure Go driver, no CGO.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open local store", err)
	}

	// SQLite doesn't support multiple writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to enable WAL mode", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to set busy timeout", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// migrate creates the schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS blobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to create schema", err)
	}
	return nil
}

// Get returns the value stored under key. The second return value is false
// when the key does not exist.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to read key %q", key), err)
	}
	return value, true, nil
}

// Put replaces the value stored under key in a single statement, so a
// partial write can never leave a corrupt snapshot behind.
func (s *Store) Put(key string, value []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value, time.Now().Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to write key %q", key), err)
	}
	return nil
}

// Delete removes the value stored under key. Deleting a missing key is a
// no-op.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to delete key %q", key), err)
	}
	return nil
}

// PutBlob stores an attachment body under id.
func (s *Store) PutBlob(id, name string, data []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO blobs (id, name, data, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name, data = excluded.data",
		id, name, data, time.Now().Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to store blob %q", id), err)
	}
	return nil
}

// GetBlob returns a staged attachment body by id.
func (s *Store) GetBlob(id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM blobs WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrAttachmentMissing, fmt.Sprintf("blob %q not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to read blob %q", id), err)
	}
	return data, nil
}

// DeleteBlobs removes attachment bodies once their mutation has been
// acknowledged. Missing ids are ignored.
func (s *Store) DeleteBlobs(ids []string) error {
	for _, id := range ids {
		if _, err := s.db.Exec("DELETE FROM blobs WHERE id = ?", id); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to delete blob %q", id), err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
