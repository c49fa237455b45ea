// Package lock provides the single-writer critical section used when enquiry
// writes are serialized across workers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"enquiry-workers/internal/common/logger"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotObtained = errors.New("LOCK_NOT_OBTAINED")

// Locker runs fn while holding key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RedisLocker arbitrates through a Redis lease. The lease expires after ttl even if
// the holder dies. fn runs under a context that ends a tenth of the ttl before
// the lease does, so its remote calls are cut off while the key is still held.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger logger.Logger
}

func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration, log logger.Logger) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		wait:   wait,
		logger: log.WithFields(map[string]interface{}{"component": "lock"}),
	}
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	var opts *redislock.Options
	if l.wait > 0 {
		opts = &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), int(l.wait/(100*time.Millisecond))),
		}
	}

	lease, err := l.client.Obtain(ctx, key, l.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		l.logger.Warn("could not obtain lock", map[string]interface{}{"key": key})
		return fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	} else if err != nil {
		return fmt.Errorf("obtain lock %s: %w", key, err)
	}

	defer func() {
		// Use a fresh context so a cancelled caller still releases the lease.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("failed to release lock", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}()

	fnCtx, cancel := context.WithTimeout(ctx, l.ttl-l.ttl/10)
	defer cancel()

	err = fn(fnCtx)
	if errors.Is(fnCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		l.logger.Warn("critical section outlived its lease budget", map[string]interface{}{"key": key, "ttl": l.ttl.String()})
	}
	return err
}

// NoopLocker runs fn directly. Used when writes are not serialized.
type NoopLocker struct{}

func (NoopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
