// Package producer appends publish-request events to the primary topic. It
// never validates inventory and never suppresses duplicates: both are
// deferred to the consumer so there is no read-then-enqueue race.
package producer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/hhplus-commerce/coupon-pipeline/internal/config"
	"github.com/hhplus-commerce/coupon-pipeline/internal/event"
)

// ErrTransport is returned when the broker cannot accept the message. The
// ingress caller decides whether to retry or reject the HTTP request.
var ErrTransport = errors.New("publish request transport failure")

// MessageWriter defines the Kafka write operations needed by Producer.
// *kafka.Writer satisfies it; tests supply a mock.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer submits publish-request events keyed by coupon id.
type Producer struct {
	writer MessageWriter
	topic  string
}

// NewProducer creates a Producer writing to the configured publish topic.
// The hash balancer plus the coupon-id key keeps all contention for one
// coupon on one partition.
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.PublishTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: w, topic: cfg.PublishTopic}
}

// NewProducerWithWriter creates a Producer with a custom writer.
// Primarily used for testing.
func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic}
}

// Topic returns the topic this producer appends to.
func (p *Producer) Topic() string {
	return p.topic
}

// Submit enqueues one publish-request event and returns once the broker has
// accepted it. Acceptance means the request will be processed, not that the
// coupon was granted.
func (p *Producer) Submit(ctx context.Context, couponID, userID int64) error {
	ev := event.NewPublishRequest(couponID, userID)
	value, err := ev.Marshal()
	if err != nil {
		return err
	}

	msg := kafka.Message{Key: ev.Key(), Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("submit publish request coupon=%d user=%d: %w",
			couponID, userID, errors.Join(ErrTransport, err))
	}

	log.Info().
		Str("event_id", ev.EventID).
		Int64("coupon_id", couponID).
		Int64("user_id", userID).
		Str("topic", p.topic).
		Msg("publish request accepted")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
