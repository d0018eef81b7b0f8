// ABOUTME: SQLite-backed local cache store for user and domain record snapshots.
// ABOUTME: Collections of JSON records with point lookups and whole-record upserts.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store persists record snapshots locally, grouped by collection.
// Records are opaque JSON blobs; the (collection, key) pair is unique,
// so an upsert with an existing key replaces rather than duplicates.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens/creates a SQLite database at path and runs migrations.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	s.log.Debug().Str("path", path).Msg("cache store opened")
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS records (
  collection TEXT NOT NULL,
  k TEXT NOT NULL,
  record BLOB NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (collection, k)
);
`)
	return err
}

// Upsert writes record under (collection, key), replacing any existing entry.
func (s *Store) Upsert(ctx context.Context, collection, key string, record []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO records(collection, k, record, updated_at) VALUES(?,?,?,?)
ON CONFLICT(collection, k) DO UPDATE SET record=excluded.record, updated_at=excluded.updated_at`,
		collection, key, record, time.Now().Unix(),
	)
	if err != nil {
		return &StorageError{Op: "upsert", Collection: collection, Err: err}
	}
	return nil
}

// Get returns the record stored under (collection, key).
// Returns ErrNotFound when no entry exists.
func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM records WHERE collection = ? AND k = ?`,
		collection, key,
	).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Collection: collection, Err: err}
	}
	return record, nil
}

// GetAll returns every record in collection, in insertion order.
func (s *Store) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM records WHERE collection = ? ORDER BY rowid ASC`,
		collection,
	)
	if err != nil {
		return nil, &StorageError{Op: "get_all", Collection: collection, Err: err}
	}
	defer func() {
		_ = rows.Close()
	}()

	var records [][]byte
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, &StorageError{Op: "get_all", Collection: collection, Err: err}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "get_all", Collection: collection, Err: err}
	}
	return records, nil
}

// Delete removes the entry under (collection, key). Missing keys are a no-op.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND k = ?`, collection, key)
	if err != nil {
		return &StorageError{Op: "delete", Collection: collection, Err: err}
	}
	return nil
}

// DeleteAll removes every entry in collection.
func (s *Store) DeleteAll(ctx context.Context, collection string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ?`, collection)
	if err != nil {
		return &StorageError{Op: "delete_all", Collection: collection, Err: err}
	}
	return nil
}

// Replace atomically swaps the full contents of collection for the given
// key/record pairs. Writers that refresh a whole collection use this so a
// reader never observes a half-replaced set.
func (s *Store) Replace(ctx context.Context, collection string, keys []string, records [][]byte) error {
	if len(keys) != len(records) {
		return &StorageError{Op: "replace", Collection: collection, Err: errMismatchedPairs}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "replace", Collection: collection, Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return &StorageError{Op: "replace", Collection: collection, Err: err}
	}
	now := time.Now().Unix()
	for i, key := range keys {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO records(collection, k, record, updated_at) VALUES(?,?,?,?)`,
			collection, key, records[i], now)
		if err != nil {
			return &StorageError{Op: "replace", Collection: collection, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "replace", Collection: collection, Err: err}
	}
	return nil
}
