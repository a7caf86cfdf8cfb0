package service

import "errors"

var (
	// ErrCouponExists is returned when attempting to create a coupon that already exists
	ErrCouponExists = errors.New("coupon already exists")

	// ErrCouponNotFound is returned when a coupon cannot be found
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSoldOut is returned when a coupon's remaining stock is exhausted.
	// This is a business outcome, not a failure: the consumer acknowledges
	// the message and never dead-letters it.
	ErrSoldOut = errors.New("coupon sold out")

	// ErrDuplicateGrant is returned when the (coupon, user) pair already has
	// a grant, either in the reservation cache or the durable store. It is
	// absorbed as a no-op success so at-least-once redelivery cannot double-issue.
	ErrDuplicateGrant = errors.New("coupon already granted to user")

	// ErrCouponNotActive is returned when a grant is requested outside the
	// coupon's validity window. Business outcome, acknowledged without dead-lettering.
	ErrCouponNotActive = errors.New("coupon outside validity window")

	// ErrLockTimeout is returned when the inventory lock cannot be acquired
	// within the configured bounded wait. The consumer retries the message in
	// place; contention is expected, not an error.
	ErrLockTimeout = errors.New("inventory lock wait timed out")

	// ErrPersistenceFailure marks a durable-store write that failed after the
	// cache reservation was taken. The reservation is compensated (or expires
	// by TTL) before the event is dead-lettered.
	ErrPersistenceFailure = errors.New("durable persistence failed")
)
