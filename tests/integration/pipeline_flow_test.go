//go:build integration

// End-to-end flows through the asynchronous issuance pipeline: publish
// requests are accepted over HTTP, travel through Kafka, and surface as
// durable grants.
package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPipeline_PublishFlow covers the happy path:
// 1. Create a coupon via API
// 2. Submit a publish request, observe 202 with no grant yet implied
// 3. Wait for the worker to process the event
// 4. Observe the grant via the user coupons API and the decremented stock
func TestPipeline_PublishFlow(t *testing.T) {
	cleanupTables(t)

	const (
		amount = 100
		userID = int64(1001)
	)
	couponID := createCoupon(t, "PIPELINE_FLOW", amount)

	status := publishCoupon(t, couponID, userID)
	require.Equal(t, http.StatusAccepted, status, "publish request should be accepted")

	waitForGrantCount(t, couponID, 1)

	resp, err := getJSON(formatURL(fmt.Sprintf("/api/v1/users/%d/coupons", userID)))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		UserID  int64 `json:"user_id"`
		Coupons []struct {
			CouponID int64  `json:"coupon_id"`
			Status   string `json:"status"`
		} `json:"coupons"`
	}
	require.NoError(t, readJSONResponse(resp, &result))
	require.Len(t, result.Coupons, 1)
	assert.Equal(t, couponID, result.Coupons[0].CouponID)
	assert.Equal(t, "ISSUED", result.Coupons[0].Status)

	assert.Equal(t, amount-1, remainingAmount(t, couponID))
}

// TestPipeline_DuplicateRequests verifies idempotency: repeated publish
// requests for the same (coupon, user) pair are all accepted at the edge but
// collapse to a single grant and a single decrement.
func TestPipeline_DuplicateRequests(t *testing.T) {
	cleanupTables(t)

	const (
		amount = 100
		userID = int64(2001)
	)
	couponID := createCoupon(t, "PIPELINE_DUP", amount)

	for i := 0; i < 3; i++ {
		status := publishCoupon(t, couponID, userID)
		require.Equal(t, http.StatusAccepted, status,
			"duplicate submissions are indistinguishable at the edge")
	}

	waitForGrantCount(t, couponID, 1)
	assert.Equal(t, amount-1, remainingAmount(t, couponID),
		"duplicates must not consume stock")
}

// TestPipeline_SoldOut verifies the inventory bound: with stock 2 and 5
// distinct requesters, exactly 2 grants exist and stock reaches exactly 0.
func TestPipeline_SoldOut(t *testing.T) {
	cleanupTables(t)

	const (
		amount     = 2
		requesters = 5
	)
	couponID := createCoupon(t, "PIPELINE_SOLDOUT", amount)

	for i := 0; i < requesters; i++ {
		status := publishCoupon(t, couponID, int64(3001+i))
		require.Equal(t, http.StatusAccepted, status,
			"sold-out is a pipeline outcome, not a synchronous rejection")
	}

	waitForGrantCount(t, couponID, amount)
	assert.Equal(t, 0, remainingAmount(t, couponID))
}

// TestPipeline_Conservation checks the accounting invariant after a mixed
// workload: total - remaining == count(grants).
func TestPipeline_Conservation(t *testing.T) {
	cleanupTables(t)

	const amount = 10
	couponID := createCoupon(t, "PIPELINE_CONSERVE", amount)

	// 7 distinct users, two of them submitting twice.
	for i := 0; i < 7; i++ {
		publishCoupon(t, couponID, int64(4001+i))
	}
	publishCoupon(t, couponID, 4001)
	publishCoupon(t, couponID, 4002)

	waitForGrantCount(t, couponID, 7)

	remaining := remainingAmount(t, couponID)
	grants := grantCount(t, couponID)
	assert.Equal(t, amount-remaining, grants, "every decrement must have exactly one grant")
}

// TestPipeline_UnknownCoupon verifies that a publish request for a coupon
// that does not exist is accepted at the edge and quietly fails inside the
// pipeline without wedging subsequent traffic.
func TestPipeline_UnknownCoupon(t *testing.T) {
	cleanupTables(t)

	status := publishCoupon(t, 999999, 5001)
	require.Equal(t, http.StatusAccepted, status)

	// A later request for a real coupon still flows through.
	couponID := createCoupon(t, "PIPELINE_AFTER_UNKNOWN", 10)
	status = publishCoupon(t, couponID, 5002)
	require.Equal(t, http.StatusAccepted, status)

	waitForGrantCount(t, couponID, 1)
}
