package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/storage"
)

type brokenStorage struct {
	storage.Storage
}

func (brokenStorage) Set(context.Context, string, string) error { return errors.New("read-only") }
func (brokenStorage) Remove(context.Context, string) error      { return errors.New("read-only") }

func farmerLogin() model.LoginResult {
	return model.LoginResult{Token: "tok-123", Username: "ravi", Role: model.RoleFarmer}
}

func TestLoad_Anonymous(t *testing.T) {
	// Act
	s := Load(context.Background(), storage.NewMemoryStorage(), zap.NewNop())

	// Assert
	assert.Equal(t, "", s.Token())
	assert.Equal(t, Identity{}, s.Identity())
	assert.False(t, s.IsFarmer())
}

func TestLoad_RestoresPersistedSession(t *testing.T) {
	// Arrange
	ctx := context.Background()
	st := storage.NewMemoryStorage()
	require.NoError(t, st.Set(ctx, storage.KeyToken, "tok-1"))
	require.NoError(t, st.Set(ctx, storage.KeyUsername, "asha"))
	require.NoError(t, st.Set(ctx, storage.KeyRole, "BUYER"))

	// Act
	s := Load(ctx, st, zap.NewNop())

	// Assert
	assert.Equal(t, "tok-1", s.Token())
	assert.Equal(t, Identity{Username: "asha", Role: model.RoleBuyer, Authenticated: true}, s.Identity())
	assert.False(t, s.IsFarmer())
}

func TestBegin_PersistsAndSignals(t *testing.T) {
	// Arrange
	ctx := context.Background()
	st := storage.NewMemoryStorage()
	s := Load(ctx, st, zap.NewNop())
	var signals []Identity
	s.Subscribe(func(id Identity) { signals = append(signals, id) })

	// Act
	err := s.Begin(ctx, farmerLogin())

	// Assert
	require.NoError(t, err)
	assert.True(t, s.IsFarmer())
	assert.Equal(t, "tok-123", s.Token())

	token, err := st.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
	role, err := st.Get(ctx, storage.KeyRole)
	require.NoError(t, err)
	assert.Equal(t, "FARMER", role)

	require.Len(t, signals, 1)
	assert.Equal(t, Identity{Username: "ravi", Role: model.RoleFarmer, Authenticated: true}, signals[0])
}

func TestBegin_RejectsEmptyToken(t *testing.T) {
	// Arrange
	s := Load(context.Background(), storage.NewMemoryStorage(), zap.NewNop())

	// Act
	err := s.Begin(context.Background(), model.LoginResult{Username: "ravi"})

	// Assert
	assert.ErrorIs(t, err, ErrEmptyToken)
	assert.False(t, s.Identity().Authenticated)
}

func TestEnd_ClearsAndSignals(t *testing.T) {
	// Arrange
	ctx := context.Background()
	st := storage.NewMemoryStorage()
	require.NoError(t, st.Set(ctx, storage.KeyCart, `[{"id":"7","quantity":1}]`))
	s := Load(ctx, st, zap.NewNop())
	require.NoError(t, s.Begin(ctx, farmerLogin()))
	var last Identity
	s.Subscribe(func(id Identity) { last = id })

	// Act
	s.End(ctx)

	// Assert
	assert.Equal(t, Identity{}, s.Identity())
	assert.Equal(t, Identity{}, last)
	for _, key := range []string{storage.KeyToken, storage.KeyUsername, storage.KeyRole} {
		_, err := st.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound, key)
	}
	cart, err := st.Get(ctx, storage.KeyCart)
	require.NoError(t, err, "logout must not touch the cart")
	assert.NotEmpty(t, cart)
}

func TestSession_PersistsWithCancelledContext(t *testing.T) {
	// Arrange
	st := storage.NewMemoryStorage()
	s := Load(context.Background(), st, zap.NewNop())
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// Act - login
	require.NoError(t, s.Begin(cancelled, farmerLogin()))

	// Assert
	restored := Load(context.Background(), st, zap.NewNop())
	assert.Equal(t, "tok-123", restored.Token())
	assert.True(t, restored.IsFarmer())

	// Act - logout
	s.End(cancelled)

	// Assert
	restored = Load(context.Background(), st, zap.NewNop())
	assert.Empty(t, restored.Token())
	assert.False(t, restored.Identity().Authenticated)
}

func TestSession_PersistenceFailureDoesNotFail(t *testing.T) {
	// Arrange
	s := Load(context.Background(), brokenStorage{storage.NewMemoryStorage()}, zap.NewNop())

	// Act
	err := s.Begin(context.Background(), farmerLogin())
	s.End(context.Background())

	// Assert
	require.NoError(t, err)
	assert.False(t, s.Identity().Authenticated)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	// Arrange
	s := Load(context.Background(), storage.NewMemoryStorage(), zap.NewNop())
	calls := 0
	unsubscribe := s.Subscribe(func(Identity) { calls++ })

	// Act
	require.NoError(t, s.Begin(context.Background(), farmerLogin()))
	unsubscribe()
	s.End(context.Background())

	// Assert
	assert.Equal(t, 1, calls)
}
