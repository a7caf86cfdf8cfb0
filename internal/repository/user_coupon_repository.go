package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hhplus-commerce/coupon-pipeline/internal/model"
	"github.com/hhplus-commerce/coupon-pipeline/internal/service"
	"github.com/hhplus-commerce/coupon-pipeline/pkg/database"
)

// UserCouponPoolInterface defines the database operations needed by UserCouponRepository.
type UserCouponPoolInterface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserCouponRepository provides data access for coupon grants using pgx.
type UserCouponRepository struct {
	pool UserCouponPoolInterface
}

// NewUserCouponRepository creates a new UserCouponRepository with the given pool.
func NewUserCouponRepository(pool *pgxpool.Pool) *UserCouponRepository {
	return &UserCouponRepository{pool: pool}
}

// NewUserCouponRepositoryWithPool creates a new UserCouponRepository with a custom
// pool interface. This is primarily used for testing.
func NewUserCouponRepositoryWithPool(pool UserCouponPoolInterface) *UserCouponRepository {
	return &UserCouponRepository{pool: pool}
}

// Insert inserts a grant record within a transaction. The UNIQUE
// (coupon_id, user_id) constraint is the authoritative duplicate check;
// the cache layer's idempotency record is only advisory.
// Returns service.ErrDuplicateGrant if the pair already has a grant.
func (r *UserCouponRepository) Insert(ctx context.Context, tx database.TxQuerier, couponID, userID int64) error {
	query := `INSERT INTO user_coupons (coupon_id, user_id, status) VALUES ($1, $2, $3)`

	_, err := tx.Exec(ctx, query, couponID, userID, model.StatusIssued)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrDuplicateGrant
		}
		return fmt.Errorf("insert user coupon: %w", err)
	}
	return nil
}

// ListByUser retrieves all grants for a user, newest first.
// On success, returns an empty slice (not nil) when no grants exist.
func (r *UserCouponRepository) ListByUser(ctx context.Context, userID int64) ([]model.UserCoupon, error) {
	query := `SELECT uc.id, uc.coupon_id, c.name, uc.user_id, uc.status, uc.issued_at
	          FROM user_coupons uc
	          JOIN coupons c ON c.id = uc.coupon_id
	          WHERE uc.user_id = $1
	          ORDER BY uc.issued_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list coupons for user %d: %w", userID, err)
	}
	defer rows.Close()

	var grants []model.UserCoupon
	for rows.Next() {
		var g model.UserCoupon
		if err := rows.Scan(&g.ID, &g.CouponID, &g.CouponName, &g.UserID, &g.Status, &g.IssuedAt); err != nil {
			return nil, fmt.Errorf("scan user coupon: %w", err)
		}
		grants = append(grants, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user coupon rows: %w", err)
	}

	// Return empty slice, not nil
	if grants == nil {
		grants = []model.UserCoupon{}
	}

	return grants, nil
}

// CountByCoupon returns the number of grants issued for a coupon. Together
// with remaining_amount this checks the conservation invariant
// total - remaining == count(grants).
func (r *UserCouponRepository) CountByCoupon(ctx context.Context, couponID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_coupons WHERE coupon_id = $1`, couponID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count grants for coupon %d: %w", couponID, err)
	}
	return count, nil
}
