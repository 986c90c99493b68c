package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"relay-chat/pkg/logger"
)

// ProfileCache stores profiles by user id and by token digest.
type ProfileCache interface {
	GetProfileByID(ctx context.Context, userID int64, dst any) (bool, error)
	SetProfileByID(ctx context.Context, userID int64, profile any) error
	GetProfileByToken(ctx context.Context, tokenDigest string, dst any) (bool, error)
	SetProfileByToken(ctx context.Context, tokenDigest string, profile any) error
}

// CachedProvider serves lookups from cache and falls back to next. Cache
// errors are logged and treated as misses.
type CachedProvider struct {
	next  Provider
	cache ProfileCache
	log   *logger.Logger
}

func NewCachedProvider(next Provider, cache ProfileCache, log *logger.Logger) *CachedProvider {
	return &CachedProvider{next: next, cache: cache, log: log.Named("auth-cache")}
}

// tokenDigest keeps raw bearer tokens out of Redis keys.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (c *CachedProvider) FetchProfile(ctx context.Context, token string) (Profile, error) {
	digest := tokenDigest(token)
	var p Profile
	if found, err := c.cache.GetProfileByToken(ctx, digest, &p); err != nil {
		c.log.Warnf("profile cache read failed: %v", err)
	} else if found {
		return p, nil
	}

	p, err := c.next.FetchProfile(ctx, token)
	if err != nil {
		return Profile{}, err
	}
	if err := c.cache.SetProfileByToken(ctx, digest, p); err != nil {
		c.log.Warnf("profile cache write failed: %v", err)
	}
	if err := c.cache.SetProfileByID(ctx, p.ID, p); err != nil {
		c.log.Warnf("profile cache write failed: %v", err)
	}
	return p, nil
}

func (c *CachedProvider) FetchUserByID(ctx context.Context, token string, userID int64) (Profile, error) {
	var p Profile
	if found, err := c.cache.GetProfileByID(ctx, userID, &p); err != nil {
		c.log.Warnf("profile cache read failed: %v", err)
	} else if found {
		return p, nil
	}

	p, err := c.next.FetchUserByID(ctx, token, userID)
	if err != nil {
		return Profile{}, err
	}
	if err := c.cache.SetProfileByID(ctx, userID, p); err != nil {
		c.log.Warnf("profile cache write failed: %v", err)
	}
	return p, nil
}
