package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhplus-commerce/coupon-pipeline/internal/model"
	"github.com/hhplus-commerce/coupon-pipeline/internal/service"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFn func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.scanFn != nil {
		return m.scanFn(dest...)
	}
	return nil
}

// mockPool implements PoolInterface for testing.
type mockPool struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockPool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if m.execFn != nil {
		return m.execFn(ctx, sql, arguments...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFn != nil {
		return m.queryRowFn(ctx, sql, args...)
	}
	return &mockRow{}
}

// mockTxQuerier implements database.TxQuerier for testing locked reads.
type mockTxQuerier struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (m *mockTxQuerier) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if m.execFn != nil {
		return m.execFn(ctx, sql, arguments...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockTxQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFn != nil {
		return m.queryRowFn(ctx, sql, args...)
	}
	return &mockRow{}
}

func (m *mockTxQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, sql, args...)
	}
	return nil, nil
}

func scanCoupon(dest []any, c model.Coupon) {
	*(dest[0].(*int64)) = c.ID
	*(dest[1].(*string)) = c.Name
	*(dest[2].(*int)) = c.TotalAmount
	*(dest[3].(*int)) = c.RemainingAmount
	*(dest[4].(*time.Time)) = c.ValidFrom
	*(dest[5].(*time.Time)) = c.ValidUntil
	*(dest[6].(*time.Time)) = c.CreatedAt
}

func TestCouponRepository_Insert_Success(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*int64)) = 11
				return nil
			}}
		},
	}

	repo := NewCouponRepositoryWithPool(mock)
	coupon := &model.Coupon{Name: "FLASH_SALE", TotalAmount: 100}
	err := repo.Insert(context.Background(), coupon)

	require.NoError(t, err)
	assert.Equal(t, int64(11), coupon.ID, "generated id should be filled in")
	assert.Equal(t, 100, coupon.RemainingAmount, "remaining starts at total")
}

func TestCouponRepository_Insert_Duplicate(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				return &pgconn.PgError{Code: "23505"}
			}}
		},
	}

	repo := NewCouponRepositoryWithPool(mock)
	err := repo.Insert(context.Background(), &model.Coupon{Name: "FLASH_SALE", TotalAmount: 100})

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrCouponExists), "unique violation maps to ErrCouponExists")
}

func TestCouponRepository_GetByID_NotFound(t *testing.T) {
	mock := &mockPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				return pgx.ErrNoRows
			}}
		},
	}

	repo := NewCouponRepositoryWithPool(mock)
	coupon, err := repo.GetByID(context.Background(), 999)

	require.NoError(t, err, "not found is not an error at this layer")
	assert.Nil(t, coupon)
}

func TestCouponRepository_GetForUpdate_Found(t *testing.T) {
	now := time.Now().UTC()
	want := model.Coupon{ID: 7, Name: "FLASH_SALE", TotalAmount: 100, RemainingAmount: 5,
		ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour), CreatedAt: now}

	tx := &mockTxQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			assert.Contains(t, sql, "FOR UPDATE", "contended read must take the row lock")
			return &mockRow{scanFn: func(dest ...any) error {
				scanCoupon(dest, want)
				return nil
			}}
		},
	}

	repo := NewCouponRepositoryWithPool(&mockPool{})
	coupon, err := repo.GetForUpdate(context.Background(), tx, 7)

	require.NoError(t, err)
	assert.Equal(t, want.ID, coupon.ID)
	assert.Equal(t, want.RemainingAmount, coupon.RemainingAmount)
}

func TestCouponRepository_GetForUpdate_NotFound(t *testing.T) {
	tx := &mockTxQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				return pgx.ErrNoRows
			}}
		},
	}

	repo := NewCouponRepositoryWithPool(&mockPool{})
	_, err := repo.GetForUpdate(context.Background(), tx, 999)

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrCouponNotFound))
}

func TestCouponRepository_Decrement_Success(t *testing.T) {
	tx := &mockTxQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			assert.Contains(t, sql, "remaining_amount > 0", "guard keeps remaining from going negative")
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}

	repo := NewCouponRepositoryWithPool(&mockPool{})
	err := repo.Decrement(context.Background(), tx, 7)

	require.NoError(t, err)
}

func TestCouponRepository_Decrement_NoStock(t *testing.T) {
	tx := &mockTxQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}

	repo := NewCouponRepositoryWithPool(&mockPool{})
	err := repo.Decrement(context.Background(), tx, 7)

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrSoldOut), "zero rows affected means stock ran out")
}
