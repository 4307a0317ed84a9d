package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("storage: record not found")
	ErrExists   = errors.New("storage: record already exists")
	// ErrConflict is returned by Replace when the stored version no longer
	// matches expectedVersion: another writer got there first.
	ErrConflict = errors.New("storage: version conflict")
)

// KVStore is the external persistence boundary: a remote store addressed by a
// single key. Replace is a compare-and-swap on Record.Version so concurrent
// writers surface a conflict instead of silently overwriting each other.
type KVStore interface {
	Get(ctx context.Context, key string) (*Record, error)
	Create(ctx context.Context, key string, rec *Record) error
	Replace(ctx context.Context, key string, rec *Record, expectedVersion int) error
	Delete(ctx context.Context, key string) error
}
