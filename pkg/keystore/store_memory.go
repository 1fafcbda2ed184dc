package keystore

import "sync"

// MemoryStore is an in-memory implementation of the Store interface.
// This is primarily useful for testing and throwaway sessions.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(key string) (string, error) {
	if key == "" {
		return "", ErrBadKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.values[key]
	if !exists {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(key, value string) error {
	if key == "" {
		return ErrBadKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Delete removes the value stored under key.
func (s *MemoryStore) Delete(key string) error {
	if key == "" {
		return ErrBadKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Exists reports whether a value is stored under key.
func (s *MemoryStore) Exists(key string) (bool, error) {
	if key == "" {
		return false, ErrBadKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.values[key]
	return exists, nil
}

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)
