// Package session holds the identity of the logged-in user for the lifetime of
// the process. It is loaded once at startup and injected wherever identity or
// role is needed; login and logout emit a refresh signal to subscribers.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/storage"
)

// ErrEmptyToken is returned by Begin when the login result carries no token.
var ErrEmptyToken = errors.New("login result has no token")

// Identity is a read-only view of the session.
type Identity struct {
	Username      string     `json:"username,omitempty"`
	Role          model.Role `json:"role,omitempty"`
	Authenticated bool       `json:"authenticated"`
}

// IsFarmer reports whether the identity belongs to a farmer.
func (i Identity) IsFarmer() bool {
	return i.Authenticated && i.Role == model.RoleFarmer
}

// Listener receives the identity after login or logout.
type Listener func(Identity)

// Session is the session context of one user on one device.
type Session struct {
	mu        sync.RWMutex
	token     string
	username  string
	role      model.Role
	storage   storage.Storage
	logger    *zap.Logger
	listeners map[int]Listener
	nextID    int
}

// Load restores the session from storage. Missing keys leave it anonymous.
func Load(ctx context.Context, st storage.Storage, logger *zap.Logger) *Session {
	s := &Session{
		storage:   st,
		logger:    logger,
		listeners: make(map[int]Listener),
	}

	s.token = s.read(ctx, storage.KeyToken)
	s.username = s.read(ctx, storage.KeyUsername)
	s.role = model.Role(s.read(ctx, storage.KeyRole))

	if s.token != "" && !s.role.Valid() {
		logger.Warn("persisted session has unknown role", zap.String("role", string(s.role)))
	}

	logger.Info("session loaded",
		zap.Bool("authenticated", s.token != ""),
		zap.String("username", s.username),
		zap.String("role", string(s.role)),
	)

	return s
}

// Token returns the collaborator token, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

// Identity returns the current identity.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.identityLocked()
}

// IsFarmer reports whether a farmer is logged in.
func (s *Session) IsFarmer() bool {
	return s.Identity().IsFarmer()
}

// Begin records a successful login and signals subscribers.
func (s *Session) Begin(ctx context.Context, result model.LoginResult) error {
	if result.Token == "" {
		return ErrEmptyToken
	}

	s.mu.Lock()
	s.token = result.Token
	s.username = result.Username
	s.role = result.Role

	s.write(ctx, storage.KeyToken, result.Token)
	s.write(ctx, storage.KeyUsername, result.Username)
	s.write(ctx, storage.KeyRole, string(result.Role))

	identity := s.identityLocked()
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	s.logger.Info("session started",
		zap.String("username", identity.Username),
		zap.String("role", string(identity.Role)),
	)
	notify(listeners, identity)

	return nil
}

// End clears the session and signals subscribers. The cart is untouched.
func (s *Session) End(ctx context.Context) {
	s.mu.Lock()
	username := s.username
	s.token = ""
	s.username = ""
	s.role = ""

	for _, key := range []string{storage.KeyToken, storage.KeyUsername, storage.KeyRole} {
		if err := s.storage.Remove(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Error("failed to remove session key", zap.String("key", key), zap.Error(err))
		}
	}

	identity := s.identityLocked()
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	s.logger.Info("session ended", zap.String("username", username))
	notify(listeners, identity)
}

// Subscribe registers fn to receive the identity after every login and logout.
func (s *Session) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) identityLocked() Identity {
	return Identity{
		Username:      s.username,
		Role:          s.role,
		Authenticated: s.token != "",
	}
}

func (s *Session) snapshotListenersLocked() []Listener {
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func (s *Session) read(ctx context.Context, key string) string {
	value, err := s.storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to read session key", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return value
}

// write persists key even when ctx is already cancelled, so storage never
// lags behind the in-memory session.
func (s *Session) write(ctx context.Context, key, value string) {
	if err := s.storage.Set(context.WithoutCancel(ctx), key, value); err != nil {
		s.logger.Error("failed to persist session key", zap.String("key", key), zap.Error(err))
	}
}

func notify(listeners []Listener, identity Identity) {
	for _, fn := range listeners {
		fn(identity)
	}
}
