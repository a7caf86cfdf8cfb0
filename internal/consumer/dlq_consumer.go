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
)

// DeadLetterRecorder persists envelopes for auditing and operator tooling.
type DeadLetterRecorder interface {
	Insert(ctx context.Context, env event.DeadLetterEnvelope) error
}

// DLQConsumer observes dead-lettered events. It records every envelope and
// surfaces it in the logs; it never mutates inventory state itself.
// Reprocessing is a separate, explicit action: automatic when the replay
// policy is "auto" (bounded by MaxReplays), otherwise via Replay called from
// operator tooling. Both paths are idempotency-safe because the publish
// consumer's pre-check absorbs re-grants.
type DLQConsumer struct {
	reader     MessageReader
	primary    MessageWriter
	recorder   DeadLetterRecorder
	policy     string
	maxReplays int
}

// NewDLQConsumer creates a DLQConsumer reading the DLQ topic and replaying
// onto the primary topic.
func NewDLQConsumer(cfg config.KafkaConfig, recorder DeadLetterRecorder) *DLQConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.DLQConsumerGroup,
		Topic:    cfg.DLQTopic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  500 * time.Millisecond,
	})
	primary := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.PublishTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &DLQConsumer{
		reader:     reader,
		primary:    primary,
		recorder:   recorder,
		policy:     cfg.ReplayPolicy,
		maxReplays: cfg.MaxReplays,
	}
}

// NewDLQConsumerWithDeps creates a DLQConsumer with custom dependencies.
// Primarily used for testing.
func NewDLQConsumerWithDeps(reader MessageReader, primary MessageWriter, recorder DeadLetterRecorder,
	policy string, maxReplays int) *DLQConsumer {
	return &DLQConsumer{reader: reader, primary: primary, recorder: recorder, policy: policy, maxReplays: maxReplays}
}

// Run fetches and processes dead-lettered messages until the context is
// cancelled. As with Consumer.Run, a non-nil error means the last fetched
// message is unresolved and the caller must rebuild the consumer so the
// group rejoin redelivers it.
func (c *DLQConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := c.handle(ctx, m); err != nil {
			return err
		}
	}
}

func (c *DLQConsumer) handle(ctx context.Context, m kafka.Message) error {
	env := envelopeFromMessage(m)

	log.Warn().
		Str("key", string(env.Key)).
		Str("reason", env.Reason).
		Time("failed_at", env.FailedAt).
		Int("replay_count", env.ReplayCount).
		Msg("dead-lettered event received")

	// Audit record is best effort: the observer must not wedge the DLQ topic
	// when the database is the thing that is down.
	if err := c.recorder.Insert(ctx, env); err != nil {
		log.Error().Err(err).Str("key", string(env.Key)).Msg("failed to record dead letter")
	}

	if c.policy == config.ReplayPolicyAuto {
		if env.ReplayCount < c.maxReplays {
			if err := c.Replay(ctx, env); err != nil {
				// Leave the DLQ message unacknowledged; the rebuilt consumer
				// picks it up again.
				return err
			}
		} else {
			log.Error().
				Str("key", string(env.Key)).
				Int("replay_count", env.ReplayCount).
				Msg("replay budget exhausted, envelope left for manual handling")
		}
	}

	return c.reader.CommitMessages(ctx, m)
}

// Replay republishes the envelope's original payload verbatim onto the
// primary topic under its original key, with an incremented replay count.
func (c *DLQConsumer) Replay(ctx context.Context, env event.DeadLetterEnvelope) error {
	msg := kafka.Message{
		Key:   env.Key,
		Value: env.Payload,
		Headers: []kafka.Header{
			{Key: event.HeaderReplayCount, Value: []byte(strconv.Itoa(env.ReplayCount + 1))},
		},
	}
	if err := c.primary.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("key", string(env.Key)).Msg("replay write failed")
		return err
	}
	log.Info().
		Str("key", string(env.Key)).
		Int("replay_count", env.ReplayCount+1).
		Msg("dead-lettered event replayed to primary topic")
	return nil
}

// envelopeFromMessage reconstructs an envelope from a DLQ message, reading
// failure metadata out of the headers. Missing headers degrade gracefully:
// the payload and key are always preserved.
func envelopeFromMessage(m kafka.Message) event.DeadLetterEnvelope {
	env := event.DeadLetterEnvelope{
		Key:     m.Key,
		Payload: m.Value,
	}
	for _, h := range m.Headers {
		switch h.Key {
		case event.HeaderFailureReason:
			env.Reason = string(h.Value)
		case event.HeaderFailedAt:
			if t, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				env.FailedAt = t
			}
		case event.HeaderOriginTopic:
			env.OriginTopic = string(h.Value)
		case event.HeaderReplayCount:
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				env.ReplayCount = n
			}
		}
	}
	if env.FailedAt.IsZero() {
		env.FailedAt = m.Time
	}
	return env
}

// Close closes the reader and the replay writer.
func (c *DLQConsumer) Close() error {
	rErr := c.reader.Close()
	wErr := c.primary.Close()
	return errors.Join(rErr, wErr)
}
