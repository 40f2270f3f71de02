package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every cache key so the instance can share a Redis
// database with other applications.
const KeyPrefix = "epicsaga:"

const (
	connectAttempts = 30
	connectDelay    = 2 * time.Second
)

// RedisService is the Redis-backed Cache. Its client is shared with the
// event broadcaster and the story lock, which use unprefixed channel and
// lock names of their own.
type RedisService struct {
	client *redis.Client
	logger *slog.Logger
	delay  time.Duration
}

var _ Cache = (*RedisService)(nil)

// NewRedisService connects to redisURL, which is either a redis:// or
// rediss:// URL (credentials, db number and TLS included) or a bare
// host:port.
func NewRedisService(redisURL string, logger *slog.Logger) (*RedisService, error) {
	opts := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}

	return &RedisService{
		client: redis.NewClient(opts),
		logger: logger.With("redis_addr", opts.Addr),
		delay:  connectDelay,
	}, nil
}

func (r *RedisService) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := r.client.Set(ctx, KeyPrefix+key, value, expiration).Err(); err != nil {
		r.logger.Error("Redis SET failed", "key", key, "error", err)
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get returns "" and no error for a missing or expired key.
func (r *RedisService) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, KeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		r.logger.Error("Redis GET failed", "key", key, "error", err)
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return value, nil
}

func (r *RedisService) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = KeyPrefix + k
	}

	deleted, err := r.client.Del(ctx, prefixed...).Result()
	if err != nil {
		r.logger.Error("Redis DEL failed", "keys", keys, "error", err)
		return fmt.Errorf("redis del failed: %w", err)
	}
	r.logger.Debug("Cache keys invalidated", "keys", keys, "deleted_count", deleted)
	return nil
}

func (r *RedisService) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// Client exposes the underlying client for pub/sub and locking.
func (r *RedisService) Client() *redis.Client {
	return r.client
}

// WaitForConnection pings until Redis answers, the attempts run out or ctx
// ends. Containers often start the API before Redis accepts connections.
func (r *RedisService) WaitForConnection(ctx context.Context) error {
	for i := 0; i < connectAttempts; i++ {
		err := r.Ping(ctx)
		if err == nil {
			r.logger.Info("Redis connection established", "attempts", i+1)
			return nil
		}
		r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
		case <-time.After(r.delay):
		}
	}
	return fmt.Errorf("redis did not become available after %d attempts", connectAttempts)
}
