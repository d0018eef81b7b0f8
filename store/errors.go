package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic handling.
var (
	// ErrStorage marks any underlying storage-layer failure. Callers are
	// expected to log and degrade to an empty cache rather than crash.
	ErrStorage = errors.New("local storage failure")

	// ErrNotFound is returned by Get when no entry exists for the key.
	ErrNotFound = errors.New("record not found")
)

var errMismatchedPairs = errors.New("keys and records length mismatch")

// StorageError wraps a storage failure with operation context.
type StorageError struct {
	Op         string // "get", "upsert", "replace", ...
	Collection string
	Err        error
}

func (e *StorageError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
