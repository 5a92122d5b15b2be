package storage

import (
	"sync"
)

// MemoryStore keeps everything in process memory. Used by tests and
// ephemeral dev nodes; PebbleStore is the persistent counterpart.
type MemoryStore struct {
	caches map[int64]map[string][]byte
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{caches: make(map[int64]map[string][]byte)}
}

func (s *MemoryStore) Put(cacheID int64, key, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.caches[cacheID]
	if !ok {
		entries = make(map[string][]byte)
		s.caches[cacheID] = entries
	}
	entries[string(key)] = stored
	return nil
}

func (s *MemoryStore) Get(cacheID int64, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.caches[cacheID][string(key)]
	if !ok {
		return nil, false, nil
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, true, nil
}

func (s *MemoryStore) Remove(cacheID int64, key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.caches[cacheID]
	if !ok {
		return false, nil
	}
	if _, exists := entries[string(key)]; !exists {
		return false, nil
	}
	delete(entries, string(key))
	return true, nil
}

func (s *MemoryStore) Clear(cacheID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.caches, cacheID)
	return nil
}

func (s *MemoryStore) Size(cacheID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.caches[cacheID])), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.caches = make(map[int64]map[string][]byte)
	return nil
}
