package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - profile:id:{user_id} - 5m TTL, auth profile by user id
// - profile:token:{sha256(token)} - 1m TTL, auth profile by bearer token

// CacheConfig contains configuration for caching
type CacheConfig struct {
	ProfileTTL time.Duration // TTL for profiles looked up by id (default 5m)
	TokenTTL   time.Duration // TTL for profiles looked up by token (default 1m)
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ProfileTTL: 5 * time.Minute,
		TokenTTL:   time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

// NewCacheStore creates a new cache store
func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

// GetProfileByID loads the cached profile of userID into dst. found is false
// on a cache miss.
func (c *CacheStore) GetProfileByID(ctx context.Context, userID int64, dst any) (bool, error) {
	return c.getJSON(ctx, fmt.Sprintf("profile:id:%d", userID), dst)
}

func (c *CacheStore) SetProfileByID(ctx context.Context, userID int64, profile any) error {
	return c.setJSON(ctx, fmt.Sprintf("profile:id:%d", userID), profile, c.config.ProfileTTL)
}

// GetProfileByToken loads the profile cached under a token digest into dst.
func (c *CacheStore) GetProfileByToken(ctx context.Context, tokenDigest string, dst any) (bool, error) {
	return c.getJSON(ctx, "profile:token:"+tokenDigest, dst)
}

func (c *CacheStore) SetProfileByToken(ctx context.Context, tokenDigest string, profile any) error {
	return c.setJSON(ctx, "profile:token:"+tokenDigest, profile, c.config.TokenTTL)
}

// InvalidateProfile removes a user's id-keyed profile from cache
func (c *CacheStore) InvalidateProfile(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, fmt.Sprintf("profile:id:%d", userID)).Err()
}

func (c *CacheStore) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil // Cache miss
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *CacheStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}
