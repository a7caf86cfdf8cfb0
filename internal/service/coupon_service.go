package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hhplus-commerce/coupon-pipeline/internal/model"
)

// defaultValidity is the validity window applied when a create request
// leaves it open.
const defaultValidity = 365 * 24 * time.Hour

// CouponService provides the synchronous read/admin surface: coupon
// creation (catalog seeding) and the grant query endpoint. The issuance
// write path lives in IssueService behind the queue.
type CouponService struct {
	coupons CouponRepositoryInterface
	grants  UserCouponRepositoryInterface
}

// NewCouponService creates a CouponService with the given repositories.
func NewCouponService(coupons CouponRepositoryInterface, grants UserCouponRepositoryInterface) *CouponService {
	return &CouponService{coupons: coupons, grants: grants}
}

// Create creates a new coupon from the request.
// Returns ErrCouponExists if a coupon with the same name already exists.
// Returns ErrInvalidRequest if request data is nil, incomplete, or carries
// an inverted validity window.
func (s *CouponService) Create(ctx context.Context, req *model.CreateCouponRequest) (*model.Coupon, error) {
	if req == nil || req.Amount == nil {
		return nil, ErrInvalidRequest
	}

	now := time.Now().UTC()
	validFrom := now
	if req.ValidFrom != nil {
		validFrom = req.ValidFrom.UTC()
	}
	validUntil := validFrom.Add(defaultValidity)
	if req.ValidUntil != nil {
		validUntil = req.ValidUntil.UTC()
	}
	if !validUntil.After(validFrom) {
		return nil, ErrInvalidRequest
	}

	coupon := &model.Coupon{
		Name:            req.Name,
		TotalAmount:     *req.Amount,
		RemainingAmount: *req.Amount,
		ValidFrom:       validFrom,
		ValidUntil:      validUntil,
	}
	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return nil, err
	}
	return coupon, nil
}

// GetByID retrieves a coupon with its issued-grant count.
// Returns ErrCouponNotFound if the coupon doesn't exist.
func (s *CouponService) GetByID(ctx context.Context, id int64) (*model.CouponResponse, error) {
	coupon, err := s.coupons.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}

	issued, err := s.grants.CountByCoupon(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count grants: %w", err)
	}

	return &model.CouponResponse{
		ID:              coupon.ID,
		Name:            coupon.Name,
		TotalAmount:     coupon.TotalAmount,
		RemainingAmount: coupon.RemainingAmount,
		ValidFrom:       coupon.ValidFrom,
		ValidUntil:      coupon.ValidUntil,
		IssuedCount:     issued,
	}, nil
}

// ListUserCoupons retrieves all grants for a user. A user with no grants
// gets an empty list, not an error: grant existence is eventually
// consistent with accepted publish requests.
func (s *CouponService) ListUserCoupons(ctx context.Context, userID int64) (*model.UserCouponsResponse, error) {
	grants, err := s.grants.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user coupons: %w", err)
	}
	return &model.UserCouponsResponse{UserID: userID, Coupons: grants}, nil
}
