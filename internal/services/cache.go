package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Cache is the short-lived read cache in front of the store. Leaderboards
// are its only tenant.
type Cache interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// Get returns "" with a nil error when the key is missing.
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Close() error
	WaitForConnection(ctx context.Context) error
}

// ReadThrough returns the JSON cached under key, or the JSON encoding of
// load's result, which it then caches for ttl. hit reports whether the
// cache answered. A nil cache always loads. Cache errors are logged and
// never fail the read; load errors are returned unchanged.
func ReadThrough(ctx context.Context, cache Cache, logger *slog.Logger, key string, ttl time.Duration, load func(context.Context) (interface{}, error)) (data []byte, hit bool, err error) {
	if cache != nil {
		cached, err := cache.Get(ctx, key)
		if err != nil {
			logger.Warn("Cache read failed", "key", key, "error", err)
		} else if cached != "" {
			return []byte(cached), true, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return nil, false, err
	}
	data, err = json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode %s: %w", key, err)
	}

	if cache != nil {
		if err := cache.Set(ctx, key, string(data), ttl); err != nil {
			logger.Warn("Cache write failed", "key", key, "error", err)
		}
	}
	return data, false, nil
}
