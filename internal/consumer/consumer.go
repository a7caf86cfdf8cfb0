// Package consumer runs the pipeline's core workers: the publish consumer
// that turns queued publish requests into grants, and the DLQ consumer that
// observes dead-lettered events.
package consumer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/hhplus-commerce/coupon-pipeline/internal/config"
	"github.com/hhplus-commerce/coupon-pipeline/internal/event"
	"github.com/hhplus-commerce/coupon-pipeline/internal/service"
)

// defaultLockRetry is the pause between in-place retries of a message whose
// inventory lock stayed contended. The lock TTL guarantees a crashed holder
// frees the lock within seconds, so retrying in place always terminates.
const defaultLockRetry = 1 * time.Second

// MessageReader defines the Kafka fetch/commit operations needed by the
// consumers. *kafka.Reader satisfies it; tests supply a mock.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter defines the Kafka write operations needed for dead-letter
// routing and replay.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Issuer is the consumer-side grant operation.
type Issuer interface {
	Issue(ctx context.Context, couponID, userID int64) error
}

// Consumer consumes publish-request events and drives them through the
// issuance state machine. Per message:
//
//	received -> lock acquired -> idempotency checked -> reserved -> persisted -> acked
//
// or, on unexpected failure, the original bytes go verbatim to the DLQ topic
// and the primary message is acked so one poison message cannot block the
// partition.
type Consumer struct {
	reader    MessageReader
	dlq       MessageWriter
	issuer    Issuer
	topic     string
	lockRetry time.Duration
}

// NewConsumer creates a Consumer reading the publish topic as part of the
// configured consumer group and dead-lettering to the DLQ topic.
func NewConsumer(cfg config.KafkaConfig, issuer Issuer) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.ConsumerGroup,
		Topic:    cfg.PublishTopic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  500 * time.Millisecond,
	})
	dlq := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.DLQTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Consumer{reader: reader, dlq: dlq, issuer: issuer, topic: cfg.PublishTopic, lockRetry: defaultLockRetry}
}

// NewConsumerWithDeps creates a Consumer with custom reader, DLQ writer and
// issuer. Primarily used for testing.
func NewConsumerWithDeps(reader MessageReader, dlq MessageWriter, issuer Issuer, topic string) *Consumer {
	return &Consumer{reader: reader, dlq: dlq, issuer: issuer, topic: topic, lockRetry: defaultLockRetry}
}

// Topic returns the topic this consumer subscribes to.
func (c *Consumer) Topic() string {
	return c.topic
}

// Run fetches and processes messages until the context is cancelled,
// returning nil on cancellation. A non-nil error means the last fetched
// message is still unresolved (broker failure or a failed DLQ write); the
// caller must discard this consumer and build a fresh one, whose group
// rejoin resumes from the last committed offset and redelivers the message.
// A group reader never rewinds within a live session, so re-running the
// same consumer would skip the unresolved offset.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := c.handle(ctx, m); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	ev, err := event.DecodePublishRequest(m.Value)
	if err != nil {
		// Poison payload: it can never succeed, so it goes straight to the DLQ.
		return c.deadLetterAndAck(ctx, m, "malformed payload: "+err.Error())
	}

	logger := log.With().
		Str("event_id", ev.EventID).
		Int64("coupon_id", ev.CouponID).
		Int64("user_id", ev.UserID).
		Int("partition", m.Partition).
		Int64("offset", m.Offset).
		Logger()

	// A contended inventory lock is retried in place: offset commits are
	// cumulative per partition, so advancing past an unresolved message and
	// committing any later one would permanently mark it consumed. The lock
	// TTL bounds how long a dead holder can keep this loop spinning.
	err = c.issuer.Issue(ctx, ev.CouponID, ev.UserID)
	for errors.Is(err, service.ErrLockTimeout) {
		logger.Warn().Dur("retry_in", c.lockRetry).Msg("inventory lock contended, retrying without advancing")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.lockRetry):
		}
		err = c.issuer.Issue(ctx, ev.CouponID, ev.UserID)
	}

	switch {
	case err == nil:
		logger.Info().Msg("grant persisted")
		return c.ack(ctx, m)

	case errors.Is(err, service.ErrDuplicateGrant):
		// Redelivery of an already-processed event; no-op success.
		logger.Info().Msg("duplicate grant absorbed")
		return c.ack(ctx, m)

	case errors.Is(err, service.ErrSoldOut):
		logger.Info().Msg("coupon sold out, request resolved without grant")
		return c.ack(ctx, m)

	case errors.Is(err, service.ErrCouponNotActive):
		logger.Info().Msg("coupon outside validity window, request resolved without grant")
		return c.ack(ctx, m)

	default:
		logger.Error().Err(err).Msg("grant failed, routing to dead-letter topic")
		return c.deadLetterAndAck(ctx, m, err.Error())
	}
}

func (c *Consumer) ack(ctx context.Context, m kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		// Failed commit means redelivery, which the idempotency check absorbs.
		log.Warn().Err(err).Int64("offset", m.Offset).Msg("commit failed, message will be redelivered")
		return err
	}
	return nil
}

// deadLetterAndAck forwards the original message verbatim to the DLQ topic,
// carrying failure metadata in headers, then acknowledges the original. If
// the DLQ write itself fails the original stays unacknowledged so the event
// is not lost.
func (c *Consumer) deadLetterAndAck(ctx context.Context, m kafka.Message, reason string) error {
	env := event.NewDeadLetterEnvelope(m.Key, m.Value, c.topic, reason)
	env.ReplayCount = replayCount(m)

	dlqMsg := kafka.Message{
		Key:   env.Key,
		Value: env.Payload,
		Headers: []kafka.Header{
			{Key: event.HeaderFailureReason, Value: []byte(env.Reason)},
			{Key: event.HeaderFailedAt, Value: []byte(env.FailedAt.Format(time.RFC3339Nano))},
			{Key: event.HeaderOriginTopic, Value: []byte(env.OriginTopic)},
			{Key: event.HeaderReplayCount, Value: []byte(strconv.Itoa(env.ReplayCount))},
		},
	}
	if err := c.dlq.WriteMessages(ctx, dlqMsg); err != nil {
		log.Error().Err(err).Str("key", string(m.Key)).
			Msg("dead-letter write failed, leaving original message for redelivery")
		return err
	}

	log.Warn().
		Str("key", string(m.Key)).
		Str("reason", reason).
		Msg("event dead-lettered")
	return c.ack(ctx, m)
}

// replayCount reads how many times this message has already been replayed
// from the DLQ. Zero for first-time deliveries; carried forward into the
// next dead-letter envelope so the auto-replay budget stays bounded.
func replayCount(m kafka.Message) int {
	for _, h := range m.Headers {
		if h.Key == event.HeaderReplayCount {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

// Close closes the reader and the DLQ writer.
func (c *Consumer) Close() error {
	rErr := c.reader.Close()
	wErr := c.dlq.Close()
	return errors.Join(rErr, wErr)
}
