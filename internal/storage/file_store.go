package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// FileKVStore keeps one JSON file per key. Suitable for single-process
// deployments and tests; the mutex serializes writers within the process.
type FileKVStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileKVStore(dir string) *FileKVStore {
	_ = os.MkdirAll(dir, 0700)
	return &FileKVStore{dir: dir}
}

func (f *FileKVStore) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileKVStore) Get(_ context.Context, key string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(key)
}

func (f *FileKVStore) Create(_ context.Context, key string, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.path(key)); err == nil {
		return ErrExists
	}
	return f.write(key, rec)
}

func (f *FileKVStore) Replace(_ context.Context, key string, rec *Record, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, err := f.read(key)
	if err != nil {
		return err
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	rec.Version = expectedVersion + 1
	if err := f.write(key, rec); err != nil {
		rec.Version = expectedVersion
		return err
	}
	return nil
}

func (f *FileKVStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (f *FileKVStore) read(key string) (*Record, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (f *FileKVStore) write(key string, rec *Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path(key), b, 0600)
}
