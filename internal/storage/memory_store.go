package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryKVStore is an in-process store for tests.
type MemoryKVStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{records: map[string]*Record{}}
}

func (m *MemoryKVStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *MemoryKVStore) Create(_ context.Context, key string, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; ok {
		return ErrExists
	}
	m.records[key] = cloneRecord(rec)
	return nil
}

func (m *MemoryKVStore) Replace(_ context.Context, key string, rec *Record, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	rec.Version = expectedVersion + 1
	m.records[key] = cloneRecord(rec)
	return nil
}

func (m *MemoryKVStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; !ok {
		return ErrNotFound
	}
	delete(m.records, key)
	return nil
}

func cloneRecord(rec *Record) *Record {
	b, _ := json.Marshal(rec)
	var out Record
	_ = json.Unmarshal(b, &out)
	return &out
}
