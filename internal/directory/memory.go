package directory

import (
	"context"
	"sync"
)

// MemoryStore keeps the directory in process memory. It is the default
// backend for development and tests; production deployments configure Redis
// or Postgres instead.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, found := s.records[key]
	if !found {
		return nil, false, nil
	}
	// Copy so callers cannot alias the stored record.
	out := make([]byte, len(record))
	copy(out, record)
	return out, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, record []byte) error {
	stored := make([]byte, len(record))
	copy(stored, record)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = stored
	return nil
}

func (s *MemoryStore) ContainsKey(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.records[key]
	return found, nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, found := s.records[key]
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	stored := make([]byte, len(next))
	copy(stored, next)
	s.records[key] = stored
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
