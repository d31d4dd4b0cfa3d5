package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch-service/internal/storage/cache"
	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Register(ctx context.Context, token dispatch.DeviceToken) error {
	return m.Called(ctx, token).Error(0)
}
func (m *MockRealStore) ActiveTokens(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.DeviceToken), args.Error(1)
}
func (m *MockRealStore) Deactivate(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

const cacheKey = "dispatch:tokens:u1"

func TestCachedStore_ReadAside(t *testing.T) {
	ctx := context.Background()

	t.Run("Cache miss falls back and populates", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Hour)

		fresh := []dispatch.DeviceToken{{Token: "tok1", UserID: "u1", IsActive: true}}

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(errors.New("redis: nil"))
		mockDB.On("ActiveTokens", ctx, "u1").Return(fresh, nil)
		mockCache.On("Set", ctx, cacheKey, fresh, time.Hour).Return(nil)

		tokens, err := store.ActiveTokens(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, fresh, tokens)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Cache population failure is ignored", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(errors.New("redis: nil"))
		mockDB.On("ActiveTokens", ctx, "u1").Return([]dispatch.DeviceToken{}, nil)
		mockCache.On("Set", ctx, cacheKey, mock.Anything, time.Hour).Return(errors.New("redis down"))

		_, err := store.ActiveTokens(ctx, "u1")
		require.NoError(t, err)
	})

	t.Run("Real store failure propagates", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(errors.New("redis: nil"))
		mockDB.On("ActiveTokens", ctx, "u1").Return(nil, errors.New("firestore down"))

		_, err := store.ActiveTokens(ctx, "u1")
		require.Error(t, err)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("Register invalidates cache", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Hour)

		token := dispatch.DeviceToken{Token: "tok1", UserID: "u1", IsActive: true}
		mockDB.On("Register", ctx, token).Return(nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		require.NoError(t, store.Register(ctx, token))
		mockCache.AssertCalled(t, "Del", ctx, cacheKey)
	})

	t.Run("Deactivate invalidates cache immediately", func(t *testing.T) {
		// Even though pruning is best-effort, a pruned token must stop
		// receiving notifications now rather than at TTL expiry.
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Hour)

		mockDB.On("Deactivate", ctx, "u1", "tok1").Return(nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		require.NoError(t, store.Deactivate(ctx, "u1", "tok1"))
		mockCache.AssertExpectations(t)
	})

	t.Run("Write failure skips invalidation", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, time.Hour)

		token := dispatch.DeviceToken{Token: "tok1", UserID: "u1"}
		mockDB.On("Register", ctx, token).Return(errors.New("firestore down"))

		require.Error(t, store.Register(ctx, token))
		mockCache.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})
}
