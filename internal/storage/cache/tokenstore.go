package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a decorator that adds read-aside caching to any
// TokenStore. The dispatch pass hits ActiveTokens once per queued record, so
// hot users would otherwise hammer the real store.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) ActiveTokens(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	key := s.cacheKey(userID)

	var cached []dispatch.DeviceToken
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.ActiveTokens(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Populate cache fire-and-forget: caching is an optimization, not a
	// transaction. If Redis is down we just serve from the real store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) Register(ctx context.Context, token dispatch.DeviceToken) error {
	if err := s.realStore.Register(ctx, token); err != nil {
		return err
	}
	return s.invalidate(ctx, token.UserID)
}

// Deactivate must clear the cache even though pruning is best-effort:
// a pruned token has to stop receiving notifications immediately, not when
// the TTL runs out.
func (s *CachedTokenStore) Deactivate(ctx context.Context, userID, token string) error {
	if err := s.realStore.Deactivate(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, userID string) error {
	// Delete the key; the next ActiveTokens is forced back to the real store.
	return s.cache.Del(ctx, s.cacheKey(userID))
}

func (s *CachedTokenStore) cacheKey(userID string) string {
	return fmt.Sprintf("dispatch:tokens:%s", userID)
}
