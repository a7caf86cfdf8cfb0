// Package event defines the wire contracts of the issuance pipeline: the
// publish-request event carried on the primary topic and the dead-letter
// envelope carried on the DLQ topic.
//
// The payload schema is a fixed external contract ({couponId, userId}, keyed
// by the stringified coupon id) shared with every other consumer of these
// topics; changing field names here is a breaking change.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kafka header names carrying dead-letter metadata. The payload itself is
// forwarded byte-for-byte so an envelope can be replayed without re-encoding.
const (
	HeaderFailureReason = "x-failure-reason"
	HeaderFailedAt      = "x-failed-at"
	HeaderOriginTopic   = "x-origin-topic"
	HeaderReplayCount   = "x-replay-count"
)

// PublishRequest asks the pipeline to grant one coupon to one user. It is
// immutable once produced. EventID and RequestedAt are diagnostic; the
// idempotency key is the (CouponID, UserID) pair, so redelivered and
// re-produced duplicates converge to a single grant downstream.
type PublishRequest struct {
	EventID     string    `json:"eventId"`
	CouponID    int64     `json:"couponId"`
	UserID      int64     `json:"userId"`
	RequestedAt time.Time `json:"requestedAt"`
}

// NewPublishRequest builds a publish request for the given pair.
func NewPublishRequest(couponID, userID int64) PublishRequest {
	return PublishRequest{
		EventID:     uuid.NewString(),
		CouponID:    couponID,
		UserID:      userID,
		RequestedAt: time.Now().UTC(),
	}
}

// Key returns the message ordering key. All events for one coupon share a
// key, so they land on one partition and are consumed sequentially; that
// bounds inventory-lock contention to redeliveries and rebalances.
func (e PublishRequest) Key() []byte {
	return []byte(strconv.FormatInt(e.CouponID, 10))
}

// Marshal encodes the event payload.
func (e PublishRequest) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal publish request: %w", err)
	}
	return b, nil
}

// DecodePublishRequest decodes a primary-topic payload. It rejects payloads
// without a usable (couponId, userId) pair; such messages are poison and get
// dead-lettered by the consumer rather than retried.
func DecodePublishRequest(data []byte) (PublishRequest, error) {
	var e PublishRequest
	if err := json.Unmarshal(data, &e); err != nil {
		return PublishRequest{}, fmt.Errorf("decode publish request: %w", err)
	}
	if e.CouponID <= 0 || e.UserID <= 0 {
		return PublishRequest{}, fmt.Errorf("decode publish request: missing couponId/userId in %q", data)
	}
	return e, nil
}

// DeadLetterEnvelope wraps a failed event for the DLQ topic. Payload and Key
// are the original message bytes verbatim; failure metadata travels in
// headers so the payload stays replayable as-is. Envelopes are append-only.
type DeadLetterEnvelope struct {
	Key         []byte
	Payload     []byte
	OriginTopic string
	Reason      string
	FailedAt    time.Time
	ReplayCount int
}

// NewDeadLetterEnvelope captures a failed message with its failure reason.
func NewDeadLetterEnvelope(key, payload []byte, originTopic, reason string) DeadLetterEnvelope {
	return DeadLetterEnvelope{
		Key:         key,
		Payload:     payload,
		OriginTopic: originTopic,
		Reason:      reason,
		FailedAt:    time.Now().UTC(),
	}
}
