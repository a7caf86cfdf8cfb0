package handler

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/hhplus-commerce/coupon-pipeline/internal/model"
)

// PublishSubmitter defines the producer operation the handler depends on.
type PublishSubmitter interface {
	Submit(ctx context.Context, couponID, userID int64) error
}

// UserCouponLister defines the grant query operation the handler depends on.
type UserCouponLister interface {
	ListUserCoupons(ctx context.Context, userID int64) (*model.UserCouponsResponse, error)
}

// PublishHandler handles the async issuance surface: submitting publish
// requests and querying granted coupons.
type PublishHandler struct {
	producer  PublishSubmitter
	coupons   UserCouponLister
	validator *validator.Validate
}

// NewPublishHandler creates a new PublishHandler.
func NewPublishHandler(producer PublishSubmitter, coupons UserCouponLister, v *validator.Validate) *PublishHandler {
	return &PublishHandler{producer: producer, coupons: coupons, validator: v}
}

// parseUserID extracts the :id path parameter as a positive int64.
func parseUserID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// PublishCoupon handles POST /api/v1/users/:id/coupons/publish.
//
// Deliberately no synchronous validation of user or coupon existence: the
// request is accepted and validated inside the async pipeline, avoiding a
// read-then-enqueue race on inventory. 202 means "accepted", never "granted";
// the caller observes the grant later via GetUserCoupons.
func (h *PublishHandler) PublishCoupon(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: user id must be a positive integer"})
	}

	var req model.PublishCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: couponId must be a positive integer"})
	}

	if err := h.producer.Submit(c.Context(), *req.CouponID, userID); err != nil {
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Int64("coupon_id", *req.CouponID).
			Int64("user_id", userID).
			Msg("failed to accept publish request")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "publish request could not be accepted"})
	}

	return c.Status(fiber.StatusAccepted).Send(nil)
}

// GetUserCoupons handles GET /api/v1/users/:id/coupons. A purely synchronous
// read over the durable store; grants from recently accepted publish
// requests appear here once the pipeline has processed them.
func (h *PublishHandler) GetUserCoupons(c *fiber.Ctx) error {
	userID, ok := parseUserID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: user id must be a positive integer"})
	}

	resp, err := h.coupons.ListUserCoupons(c.Context(), userID)
	if err != nil {
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Int64("user_id", userID).
			Msg("failed to list user coupons")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.JSON(resp)
}
