// Package lock provides the per-coupon exclusive inventory lock. The lock is
// Redis-backed so it is visible across all consumer instances, not just
// within one process. Acquisition is a bounded polling wait; a holder that
// crashes releases implicitly via the lock key's TTL.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrAcquireTimeout is returned when the lock cannot be acquired within the
// configured wait. Callers treat it as transient contention, never a failure.
var ErrAcquireTimeout = errors.New("lock acquire timed out")

// releaseScript deletes the lock only if the caller still owns it, so a
// holder whose TTL already expired cannot release a successor's lock.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisClient defines the Redis operations needed by CouponLock.
// *redis.Client satisfies it; tests supply a mock.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// CouponLock serializes decrements of one coupon's remaining stock across
// all consumer instances.
type CouponLock struct {
	client        RedisClient
	waitTimeout   time.Duration
	retryInterval time.Duration
	ttl           time.Duration
}

// NewCouponLock creates a CouponLock with the given bounds.
func NewCouponLock(client RedisClient, waitTimeout, retryInterval, ttl time.Duration) *CouponLock {
	return &CouponLock{
		client:        client,
		waitTimeout:   waitTimeout,
		retryInterval: retryInterval,
		ttl:           ttl,
	}
}

func lockKey(couponID int64) string {
	return fmt.Sprintf("lock:coupon:%d", couponID)
}

// WithLock runs fn while holding the exclusive lock for couponID. It polls
// acquisition until the wait timeout, returning ErrAcquireTimeout when the
// lock stays contended, or the context error when the caller shuts down
// mid-wait. The lock is released after fn returns regardless of fn's error.
func (l *CouponLock) WithLock(ctx context.Context, couponID int64, fn func(ctx context.Context) error) error {
	key := lockKey(couponID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.waitTimeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock for coupon %d: %w", couponID, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return ErrAcquireTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	defer func() {
		// Best effort: an expired or lost lock key is released by TTL anyway.
		_ = l.client.Eval(context.WithoutCancel(ctx), releaseScript, []string{key}, token).Err()
	}()

	return fn(ctx)
}
