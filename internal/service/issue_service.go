package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hhplus-commerce/coupon-pipeline/internal/lock"
	"github.com/hhplus-commerce/coupon-pipeline/internal/model"
	"github.com/hhplus-commerce/coupon-pipeline/pkg/database"
)

// CouponRepositoryInterface defines the interface for coupon data access.
type CouponRepositoryInterface interface {
	Insert(ctx context.Context, coupon *model.Coupon) error
	GetByID(ctx context.Context, id int64) (*model.Coupon, error)
	GetForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.Coupon, error)
	Decrement(ctx context.Context, tx database.TxQuerier, id int64) error
}

// UserCouponRepositoryInterface defines the interface for grant data access.
type UserCouponRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, couponID, userID int64) error
	ListByUser(ctx context.Context, userID int64) ([]model.UserCoupon, error)
	CountByCoupon(ctx context.Context, couponID int64) (int, error)
}

// ReservationStoreInterface defines the cache-layer idempotency operations.
// Reserve writes a short-lived pending record; Confirm extends it to the long
// confirmed window once the grant is durable.
type ReservationStoreInterface interface {
	IsReserved(ctx context.Context, couponID, userID int64) (bool, error)
	Reserve(ctx context.Context, couponID, userID int64) (bool, error)
	Confirm(ctx context.Context, couponID, userID int64) error
	Release(ctx context.Context, couponID, userID int64) error
}

// Locker defines the exclusive inventory lock scoped by coupon.
type Locker interface {
	WithLock(ctx context.Context, couponID int64, fn func(ctx context.Context) error) error
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IssueService grants coupons to users. It is the body of the publish
// consumer's state machine: idempotency pre-check, inventory lock, stock
// recheck, decrement, cache reservation, durable persist.
type IssueService struct {
	pool         TxBeginner
	coupons      CouponRepositoryInterface
	grants       UserCouponRepositoryInterface
	reservations ReservationStoreInterface
	locker       Locker
}

// NewIssueService creates an IssueService wired to the production pool.
func NewIssueService(pool *pgxpool.Pool, coupons CouponRepositoryInterface, grants UserCouponRepositoryInterface,
	reservations ReservationStoreInterface, locker Locker) *IssueService {
	return &IssueService{pool: pool, coupons: coupons, grants: grants, reservations: reservations, locker: locker}
}

// NewIssueServiceWithTxBeginner creates an IssueService with a custom TxBeginner.
// Primarily used for testing.
func NewIssueServiceWithTxBeginner(pool TxBeginner, coupons CouponRepositoryInterface, grants UserCouponRepositoryInterface,
	reservations ReservationStoreInterface, locker Locker) *IssueService {
	return &IssueService{pool: pool, coupons: coupons, grants: grants, reservations: reservations, locker: locker}
}

// Issue grants couponID to userID at most once.
// Returns:
//   - ErrDuplicateGrant if the pair already holds a grant (no-op success)
//   - ErrSoldOut if remaining stock is exhausted (business outcome)
//   - ErrCouponNotActive outside the validity window (business outcome)
//   - ErrCouponNotFound if the coupon doesn't exist
//   - ErrLockTimeout if the inventory lock stayed contended (retryable)
//   - an error wrapping ErrPersistenceFailure if the durable commit failed
//     after the cache reservation was taken (reservation compensated)
func (s *IssueService) Issue(ctx context.Context, couponID, userID int64) error {
	// Fast idempotency pre-check. A cache miss or cache outage falls through
	// to the durable store, whose uniqueness constraint is authoritative.
	reserved, err := s.reservations.IsReserved(ctx, couponID, userID)
	if err != nil {
		log.Warn().Err(err).Int64("coupon_id", couponID).Int64("user_id", userID).
			Msg("reservation pre-check unavailable, falling through to durable store")
	} else if reserved {
		return ErrDuplicateGrant
	}

	err = s.locker.WithLock(ctx, couponID, func(ctx context.Context) error {
		return s.issueLocked(ctx, couponID, userID)
	})
	if errors.Is(err, lock.ErrAcquireTimeout) {
		return ErrLockTimeout
	}
	return err
}

// issueLocked runs under the coupon's exclusive inventory lock.
func (s *IssueService) issueLocked(ctx context.Context, couponID, userID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	// 1. Lock the coupon row and recheck stock under the lock
	coupon, err := s.coupons.GetForUpdate(ctx, tx, couponID)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return ErrCouponNotFound
		}
		return fmt.Errorf("get coupon for update: %w", err)
	}

	if !coupon.Active(time.Now().UTC()) {
		return ErrCouponNotActive
	}
	if coupon.RemainingAmount <= 0 {
		return ErrSoldOut
	}

	// 2. Decrement stock
	if err := s.coupons.Decrement(ctx, tx, couponID); err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	// 3. Insert the grant (UNIQUE constraint catches duplicates the cache missed)
	if err := s.grants.Insert(ctx, tx, couponID, userID); err != nil {
		if errors.Is(err, ErrDuplicateGrant) {
			// The grant is already durable, so write the long-lived record
			// and absorb the next redelivery before it reaches the database.
			if rerr := s.reservations.Confirm(ctx, couponID, userID); rerr != nil {
				log.Warn().Err(rerr).Int64("coupon_id", couponID).Int64("user_id", userID).
					Msg("failed to refresh reservation for existing grant")
			}
			return ErrDuplicateGrant
		}
		return fmt.Errorf("insert grant: %w", err)
	}

	// 4. Write the pending reservation before the durable commit so
	// redelivered duplicates arriving in the commit window already see it.
	// Advisory: a cache failure here does not abort the grant.
	cacheReserved := false
	if _, err := s.reservations.Reserve(ctx, couponID, userID); err != nil {
		log.Warn().Err(err).Int64("coupon_id", couponID).Int64("user_id", userID).
			Msg("cache reservation failed, durable store remains authoritative")
	} else {
		cacheReserved = true
	}

	// 5. Durable commit. On failure the pending record must not survive as a
	// false "already granted" mark, so compensate; if the compensation also
	// fails, the short pending TTL bounds how long redelivery stays blocked.
	if err := tx.Commit(ctx); err != nil {
		if cacheReserved {
			if relErr := s.reservations.Release(ctx, couponID, userID); relErr != nil {
				log.Error().Err(relErr).Int64("coupon_id", couponID).Int64("user_id", userID).
					Msg("failed to compensate reservation after commit failure, relying on pending TTL")
			}
		}
		return fmt.Errorf("commit grant: %w", errors.Join(ErrPersistenceFailure, err))
	}

	// 6. The grant is durable: promote the reservation to the long confirmed
	// window. Advisory again, the uniqueness constraint still backs it up.
	if err := s.reservations.Confirm(ctx, couponID, userID); err != nil {
		log.Warn().Err(err).Int64("coupon_id", couponID).Int64("user_id", userID).
			Msg("failed to confirm reservation after commit")
	}

	log.Info().Int64("coupon_id", couponID).Int64("user_id", userID).
		Int("remaining", coupon.RemainingAmount-1).Msg("coupon granted")
	return nil
}
