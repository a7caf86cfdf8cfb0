package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Replay policies for dead-lettered events. Manual means envelopes are only
// recorded and surfaced; an operator triggers replay explicitly. Auto
// republishes to the primary topic with a bounded replay count.
const (
	ReplayPolicyManual = "manual"
	ReplayPolicyAuto   = "auto"
)

// Config holds all configuration for both the api and worker binaries.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
	Lock   LockConfig
	Cache  CacheConfig
	Log    LogConfig
}

// ServerConfig holds HTTP server configuration (api binary only).
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"coupon_db"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// RedisConfig holds configuration for the reservation cache and the
// distributed inventory lock, both served by the same Redis instance.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// KafkaConfig holds broker and topic configuration.
//
// PublishTopic and DLQTopic are intentionally the single source of truth for
// topic names: the producer, the consumer and the DLQ consumer all read the
// same fields so the two sides of the pipeline cannot drift apart.
type KafkaConfig struct {
	Brokers          []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	PublishTopic     string   `envconfig:"KAFKA_PUBLISH_TOPIC" default:"coupon-publish-request"`
	DLQTopic         string   `envconfig:"KAFKA_DLQ_TOPIC" default:"coupon-publish-request-dlq"`
	ConsumerGroup    string   `envconfig:"KAFKA_CONSUMER_GROUP" default:"coupon-publish-group"`
	DLQConsumerGroup string   `envconfig:"KAFKA_DLQ_CONSUMER_GROUP" default:"coupon-publish-dlq-group"`
	ReplayPolicy     string   `envconfig:"KAFKA_DLQ_REPLAY_POLICY" default:"manual"`
	MaxReplays       int      `envconfig:"KAFKA_DLQ_MAX_REPLAYS" default:"3"`
}

// LockConfig bounds the distributed inventory lock. WaitTimeout caps how long
// a consumer blocks acquiring a coupon's lock before backing off for an
// in-place retry; TTL caps how long a crashed holder can keep a lock stuck.
type LockConfig struct {
	WaitTimeout   time.Duration `envconfig:"LOCK_WAIT_TIMEOUT" default:"3s"`
	RetryInterval time.Duration `envconfig:"LOCK_RETRY_INTERVAL" default:"50ms"`
	TTL           time.Duration `envconfig:"LOCK_TTL" default:"10s"`
}

// CacheConfig holds reservation-record configuration. PendingTTL bounds a
// reservation that has not yet been confirmed by a durable commit: if the
// commit and its compensating release both fail, the stale record stops
// shadowing the durable store after this window and redelivery succeeds.
// ReservationTTL applies once the grant is durably committed, where a long
// shadow is safe and keeps replayed duplicates out of the database.
type CacheConfig struct {
	PendingTTL     time.Duration `envconfig:"CACHE_PENDING_TTL" default:"2m"`
	ReservationTTL time.Duration `envconfig:"CACHE_RESERVATION_TTL" default:"24h"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Kafka.PublishTopic == c.Kafka.DLQTopic {
		return fmt.Errorf("publish topic and DLQ topic must differ, both are %q", c.Kafka.PublishTopic)
	}
	if c.Kafka.ReplayPolicy != ReplayPolicyManual && c.Kafka.ReplayPolicy != ReplayPolicyAuto {
		return fmt.Errorf("unknown DLQ replay policy %q", c.Kafka.ReplayPolicy)
	}
	if c.Kafka.MaxReplays < 0 {
		return fmt.Errorf("max replays must be >= 0, got %d", c.Kafka.MaxReplays)
	}
	if c.Lock.WaitTimeout <= 0 || c.Lock.TTL <= 0 {
		return fmt.Errorf("lock wait timeout and TTL must be positive")
	}
	if c.Cache.PendingTTL <= 0 {
		return fmt.Errorf("pending reservation TTL must be positive, got %s", c.Cache.PendingTTL)
	}
	if c.Cache.PendingTTL > c.Cache.ReservationTTL {
		return fmt.Errorf("pending reservation TTL %s must not exceed confirmed TTL %s",
			c.Cache.PendingTTL, c.Cache.ReservationTTL)
	}
	return nil
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
