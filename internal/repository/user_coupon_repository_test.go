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

// mockGrantRows implements pgx.Rows for testing.
type mockGrantRows struct {
	data      []model.UserCoupon
	index     int
	errOnScan error
	errOnRows error
}

func (m *mockGrantRows) Close() {}

func (m *mockGrantRows) Err() error {
	return m.errOnRows
}

func (m *mockGrantRows) Next() bool {
	if m.index < len(m.data) {
		m.index++
		return true
	}
	return false
}

func (m *mockGrantRows) Scan(dest ...any) error {
	if m.errOnScan != nil {
		return m.errOnScan
	}
	if m.index > 0 && m.index <= len(m.data) {
		g := m.data[m.index-1]
		*(dest[0].(*int64)) = g.ID
		*(dest[1].(*int64)) = g.CouponID
		*(dest[2].(*string)) = g.CouponName
		*(dest[3].(*int64)) = g.UserID
		*(dest[4].(*model.UserCouponStatus)) = g.Status
		*(dest[5].(*time.Time)) = g.IssuedAt
	}
	return nil
}

func (m *mockGrantRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockGrantRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockGrantRows) RawValues() [][]byte                          { return nil }
func (m *mockGrantRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockGrantRows) Conn() *pgx.Conn                              { return nil }

// mockUserCouponPool implements UserCouponPoolInterface for testing.
type mockUserCouponPool struct {
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockUserCouponPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, sql, args...)
	}
	return &mockGrantRows{}, nil
}

func (m *mockUserCouponPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFn != nil {
		return m.queryRowFn(ctx, sql, args...)
	}
	return &mockRow{}
}

func TestUserCouponRepository_Insert_Success(t *testing.T) {
	tx := &mockTxQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			assert.Equal(t, int64(7), arguments[0])
			assert.Equal(t, int64(42), arguments[1])
			assert.Equal(t, model.StatusIssued, arguments[2])
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}

	repo := NewUserCouponRepositoryWithPool(&mockUserCouponPool{})
	err := repo.Insert(context.Background(), tx, 7, 42)

	require.NoError(t, err)
}

func TestUserCouponRepository_Insert_Duplicate(t *testing.T) {
	tx := &mockTxQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		},
	}

	repo := NewUserCouponRepositoryWithPool(&mockUserCouponPool{})
	err := repo.Insert(context.Background(), tx, 7, 42)

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrDuplicateGrant),
		"the unique constraint is the authoritative duplicate check")
}

func TestUserCouponRepository_ListByUser_Success(t *testing.T) {
	now := time.Now().UTC()
	mock := &mockUserCouponPool{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			assert.Equal(t, int64(42), args[0])
			return &mockGrantRows{data: []model.UserCoupon{
				{ID: 2, CouponID: 8, CouponName: "WELCOME", UserID: 42, Status: model.StatusIssued, IssuedAt: now},
				{ID: 1, CouponID: 7, CouponName: "FLASH_SALE", UserID: 42, Status: model.StatusIssued, IssuedAt: now.Add(-time.Hour)},
			}}, nil
		},
	}

	repo := NewUserCouponRepositoryWithPool(mock)
	grants, err := repo.ListByUser(context.Background(), 42)

	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, "WELCOME", grants[0].CouponName)
	assert.Equal(t, int64(7), grants[1].CouponID)
}

func TestUserCouponRepository_ListByUser_Empty(t *testing.T) {
	repo := NewUserCouponRepositoryWithPool(&mockUserCouponPool{})
	grants, err := repo.ListByUser(context.Background(), 42)

	require.NoError(t, err)
	assert.NotNil(t, grants, "no grants yields an empty slice, not nil")
	assert.Empty(t, grants)
}

func TestUserCouponRepository_ListByUser_QueryError(t *testing.T) {
	mock := &mockUserCouponPool{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return nil, errors.New("connection refused")
		},
	}

	repo := NewUserCouponRepositoryWithPool(mock)
	_, err := repo.ListByUser(context.Background(), 42)

	require.Error(t, err)
}

func TestUserCouponRepository_ListByUser_RowsError(t *testing.T) {
	mock := &mockUserCouponPool{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &mockGrantRows{errOnRows: errors.New("connection reset")}, nil
		},
	}

	repo := NewUserCouponRepositoryWithPool(mock)
	_, err := repo.ListByUser(context.Background(), 42)

	require.Error(t, err)
}

func TestUserCouponRepository_CountByCoupon(t *testing.T) {
	mock := &mockUserCouponPool{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			assert.Equal(t, int64(7), args[0])
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*int)) = 95
				return nil
			}}
		},
	}

	repo := NewUserCouponRepositoryWithPool(mock)
	count, err := repo.CountByCoupon(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, 95, count)
}
