// Package storage provides the client-local key/value storage that keeps the
// cart and the session durable across restarts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Keys persisted by the gateway.
const (
	KeyCart     = "cart"
	KeyToken    = "token"
	KeyUsername = "username"
	KeyRole     = "role"
)

// MemoryPath selects the in-memory backend in Open.
const MemoryPath = ":memory:"

// Storage errors.
var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidKey = errors.New("invalid key")
	ErrClosed     = errors.New("storage is closed")
)

// Storage defines string key/value persistence.
type Storage interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the underlying resources.
	Close() error
}

// Open returns a Storage for path. An empty path or MemoryPath yields a
// MemoryStorage; anything else is a SQLite database file.
func Open(path string, logger *zap.Logger) (Storage, error) {
	if path == "" || path == MemoryPath {
		logger.Info("using in-memory storage; state will not survive restarts")
		return NewMemoryStorage(), nil
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	s, err := NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}

	logger.Info("using sqlite storage", zap.String("path", path))
	return s, nil
}

// Ping reports whether st can still serve reads. A missing key counts as
// healthy.
func Ping(ctx context.Context, st Storage) error {
	if _, err := st.Get(ctx, KeyCart); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("storage ping: %w", err)
	}
	return nil
}
