package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by WithLock when the context ends before the
// lock could be taken.
var ErrNotAcquired = errors.New("lock not acquired")

const (
	DefaultTTL = 2 * time.Minute

	minBackoff = 25 * time.Millisecond
	maxBackoff = 500 * time.Millisecond
)

// Only delete if we own the lock
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker is a best-effort mutual exclusion lock shared by API replicas.
// Each locker has its own owner token so it can only release its own locks.
type RedisLocker struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisLocker(client *redis.Client, owner string, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{
		client: client,
		owner:  owner,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire attempts to take the lock once.
// Returns true if lock was acquired, false if already locked
func (l *RedisLocker) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the lock if this locker still owns it.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// WithLock runs fn while holding key, polling with a doubling backoff until
// the lock is free or ctx ends.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	backoff := minBackoff
	for {
		ok, err := l.Acquire(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	defer func() {
		// Release must run even when the request context is already done.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx, key); err != nil {
			l.logger.Error("Failed to release story lock", "key", key, "error", err)
		}
	}()

	return fn(ctx)
}
