package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hhplus-commerce/coupon-pipeline/internal/event"
)

// DeadLetterRecord is a persisted dead-letter envelope. Rows are append-only;
// nothing in the pipeline ever mutates or deletes them.
type DeadLetterRecord struct {
	ID          int64
	OriginTopic string
	MessageKey  string
	Payload     []byte
	Reason      string
	ReplayCount int
	FailedAt    time.Time
	RecordedAt  time.Time
}

// DeadLetterPoolInterface defines the database operations needed by DeadLetterRepository.
type DeadLetterPoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DeadLetterRepository persists dead-lettered envelopes for auditing and
// operator-driven replay. The Kafka DLQ topic remains the transport; this
// table is the queryable record of what failed and why.
type DeadLetterRepository struct {
	pool DeadLetterPoolInterface
}

// NewDeadLetterRepository creates a new DeadLetterRepository with the given pool.
func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

// NewDeadLetterRepositoryWithPool creates a new DeadLetterRepository with a custom
// pool interface. This is primarily used for testing.
func NewDeadLetterRepositoryWithPool(pool DeadLetterPoolInterface) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

// Insert appends one envelope record.
func (r *DeadLetterRepository) Insert(ctx context.Context, env event.DeadLetterEnvelope) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO dead_letters (origin_topic, message_key, payload, reason, replay_count, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		env.OriginTopic, string(env.Key), env.Payload, env.Reason, env.ReplayCount, env.FailedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// ListRecent returns up to limit envelope records, newest first.
func (r *DeadLetterRepository) ListRecent(ctx context.Context, limit int) ([]DeadLetterRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, origin_topic, message_key, payload, reason, replay_count, failed_at, recorded_at
		 FROM dead_letters ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var records []DeadLetterRecord
	for rows.Next() {
		var rec DeadLetterRecord
		if err := rows.Scan(&rec.ID, &rec.OriginTopic, &rec.MessageKey, &rec.Payload,
			&rec.Reason, &rec.ReplayCount, &rec.FailedAt, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letter rows: %w", err)
	}

	if records == nil {
		records = []DeadLetterRecord{}
	}
	return records, nil
}
