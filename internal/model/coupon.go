package model

import "time"

// UserCouponStatus is the lifecycle state of a granted coupon.
type UserCouponStatus string

const (
	StatusIssued  UserCouponStatus = "ISSUED"
	StatusUsed    UserCouponStatus = "USED"
	StatusExpired UserCouponStatus = "EXPIRED"
)

// Coupon represents a limited-stock coupon. RemainingAmount is only ever
// decremented by the publish consumer while holding the coupon's inventory
// lock, and the invariant 0 <= remaining <= total holds at all times.
type Coupon struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	TotalAmount     int       `json:"total_amount"`
	RemainingAmount int       `json:"remaining_amount"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	CreatedAt       time.Time `json:"-"` // Not exposed in API
}

// Active reports whether the coupon can be granted at the given instant.
func (c *Coupon) Active(at time.Time) bool {
	return !at.Before(c.ValidFrom) && !at.After(c.ValidUntil)
}

// UserCoupon is a grant of one coupon to one user. The (CouponID, UserID)
// pair is unique: the durable store enforces it with a constraint and the
// cache layer mirrors it as the idempotency key.
type UserCoupon struct {
	ID         int64            `json:"id"`
	CouponID   int64            `json:"coupon_id"`
	CouponName string           `json:"coupon_name"`
	UserID     int64            `json:"user_id"`
	Status     UserCouponStatus `json:"status"`
	IssuedAt   time.Time        `json:"issued_at"`
}

// CreateCouponRequest is the DTO for creating a coupon. The validity window
// is optional; the service falls back to an open-ended default.
type CreateCouponRequest struct {
	Name       string     `json:"name" validate:"required,notblank,max=255"`
	Amount     *int       `json:"amount" validate:"required,gte=1"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until"`
}

// PublishCouponRequest is the DTO for submitting a publish request. The field
// name matches the event schema (camelCase, fixed wire contract).
type PublishCouponRequest struct {
	CouponID *int64 `json:"couponId" validate:"required,gt=0"`
}

// CouponResponse is the API response DTO for GET /api/v1/coupons/:id.
type CouponResponse struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	TotalAmount     int       `json:"total_amount"`
	RemainingAmount int       `json:"remaining_amount"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	IssuedCount     int       `json:"issued_count"`
}

// UserCouponsResponse is the API response DTO for GET /api/v1/users/:id/coupons.
type UserCouponsResponse struct {
	UserID  int64        `json:"user_id"`
	Coupons []UserCoupon `json:"coupons"`
}
