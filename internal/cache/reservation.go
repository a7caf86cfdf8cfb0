// Package cache implements the fast idempotency layer: a Redis record per
// (coupon, user) pair marking the grant as provisionally committed. The
// record is advisory, the durable store's uniqueness constraint is the
// final arbiter, but it absorbs broker redeliveries before they reach the
// database.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient defines the Redis operations needed by ReservationStore.
// *redis.Client satisfies it; tests supply a mock.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// ReservationStore records grant reservations keyed by (coupon, user).
// A reservation lives in two phases with different TTLs. Reserve writes it
// with the short pending TTL, taken before the durable commit: if the commit
// and the compensating Release both fail, the orphan stops shadowing the
// database within minutes. Confirm rewrites it with the long confirmed TTL
// once the grant is durable, where shadowing is correct and keeps replayed
// duplicates away from the database.
type ReservationStore struct {
	client       RedisClient
	pendingTTL   time.Duration
	confirmedTTL time.Duration
}

// NewReservationStore creates a ReservationStore with the given client and
// the pending and confirmed reservation TTLs.
func NewReservationStore(client RedisClient, pendingTTL, confirmedTTL time.Duration) *ReservationStore {
	return &ReservationStore{client: client, pendingTTL: pendingTTL, confirmedTTL: confirmedTTL}
}

func reservationKey(couponID, userID int64) string {
	return fmt.Sprintf("coupon:%d:user:%d", couponID, userID)
}

// IsReserved reports whether the pair already holds a reservation.
func (s *ReservationStore) IsReserved(ctx context.Context, couponID, userID int64) (bool, error) {
	n, err := s.client.Exists(ctx, reservationKey(couponID, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("check reservation coupon=%d user=%d: %w", couponID, userID, err)
	}
	return n > 0, nil
}

// Reserve records the reservation if absent, with the pending TTL. Returns
// false when another writer got there first.
func (s *ReservationStore) Reserve(ctx context.Context, couponID, userID int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, reservationKey(couponID, userID), 1, s.pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve coupon=%d user=%d: %w", couponID, userID, err)
	}
	return ok, nil
}

// Confirm rewrites the reservation with the confirmed TTL. Called once the
// grant is durably committed, and again when a redelivery finds the grant
// already in the durable store. A plain SET, not SETNX, so a confirm also
// recreates a record whose pending TTL already expired.
func (s *ReservationStore) Confirm(ctx context.Context, couponID, userID int64) error {
	if err := s.client.Set(ctx, reservationKey(couponID, userID), 1, s.confirmedTTL).Err(); err != nil {
		return fmt.Errorf("confirm reservation coupon=%d user=%d: %w", couponID, userID, err)
	}
	return nil
}

// Release removes the reservation. Called as compensation when the durable
// write fails after the reservation was taken.
func (s *ReservationStore) Release(ctx context.Context, couponID, userID int64) error {
	if err := s.client.Del(ctx, reservationKey(couponID, userID)).Err(); err != nil {
		return fmt.Errorf("release reservation coupon=%d user=%d: %w", couponID, userID, err)
	}
	return nil
}

// Ping checks Redis reachability for health checks.
func (s *ReservationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
