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

// PoolInterface defines the database operations needed by CouponRepository.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CouponRepository provides data access for coupons using pgx.
type CouponRepository struct {
	pool PoolInterface
}

// NewCouponRepository creates a new CouponRepository with the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// NewCouponRepositoryWithPool creates a new CouponRepository with a custom pool interface.
// This is primarily used for testing.
func NewCouponRepositoryWithPool(pool PoolInterface) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Insert inserts a new coupon and fills in its generated ID.
// Returns service.ErrCouponExists if a coupon with the same name already exists.
func (r *CouponRepository) Insert(ctx context.Context, coupon *model.Coupon) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO coupons (name, total_amount, remaining_amount, valid_from, valid_until)
		 VALUES ($1, $2, $2, $3, $4) RETURNING id`,
		coupon.Name, coupon.TotalAmount, coupon.ValidFrom, coupon.ValidUntil,
	).Scan(&coupon.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrCouponExists
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	coupon.RemainingAmount = coupon.TotalAmount
	return nil
}

// GetByID retrieves a coupon by its identifier.
// Returns nil, nil if the coupon is not found (service layer handles this).
func (r *CouponRepository) GetByID(ctx context.Context, id int64) (*model.Coupon, error) {
	query := `SELECT id, name, total_amount, remaining_amount, valid_from, valid_until, created_at
	          FROM coupons WHERE id = $1`

	var coupon model.Coupon
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&coupon.ID,
		&coupon.Name,
		&coupon.TotalAmount,
		&coupon.RemainingAmount,
		&coupon.ValidFrom,
		&coupon.ValidUntil,
		&coupon.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("get coupon %d: %w", id, err)
	}
	return &coupon, nil
}

// GetForUpdate retrieves a coupon with a row lock (SELECT FOR UPDATE).
// The row stays locked until the transaction completes, making the lock the
// authoritative serializer for remaining_amount even if the distributed lock
// above it ever misbehaves.
// Returns service.ErrCouponNotFound if the coupon doesn't exist.
func (r *CouponRepository) GetForUpdate(ctx context.Context, tx database.TxQuerier, id int64) (*model.Coupon, error) {
	query := `SELECT id, name, total_amount, remaining_amount, valid_from, valid_until, created_at
	          FROM coupons WHERE id = $1 FOR UPDATE`

	var coupon model.Coupon
	err := tx.QueryRow(ctx, query, id).Scan(
		&coupon.ID,
		&coupon.Name,
		&coupon.TotalAmount,
		&coupon.RemainingAmount,
		&coupon.ValidFrom,
		&coupon.ValidUntil,
		&coupon.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon for update %d: %w", id, err)
	}
	return &coupon, nil
}

// Decrement decrements the remaining_amount of a coupon by 1.
// Must be called within a transaction after locking the row. The WHERE guard
// plus the table CHECK constraint make remaining_amount going negative
// impossible even under a locking bug.
func (r *CouponRepository) Decrement(ctx context.Context, tx database.TxQuerier, id int64) error {
	query := `UPDATE coupons SET remaining_amount = remaining_amount - 1
	          WHERE id = $1 AND remaining_amount > 0`

	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("decrement coupon %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrSoldOut
	}
	return nil
}
