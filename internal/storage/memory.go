package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStorage implements Storage with an in-memory map.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: make(map[string]string),
	}
}

// Get returns the value stored under key.
func (s *MemoryStorage) Get(ctx context.Context, key string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("get %q: %w", key, ctx.Err())
	default:
	}

	if key == "" {
		return "", ErrInvalidKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrClosed
	}

	value, exists := s.values[key]
	if !exists {
		return "", ErrNotFound
	}

	return value, nil
}

// Set stores value under key.
func (s *MemoryStorage) Set(ctx context.Context, key, value string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("set %q: %w", key, ctx.Err())
	default:
	}

	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.values[key] = value

	return nil
}

// Remove deletes key.
func (s *MemoryStorage) Remove(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("remove %q: %w", key, ctx.Err())
	default:
	}

	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	delete(s.values, key)

	return nil
}

// Close marks the storage closed. Later calls fail with ErrClosed.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
