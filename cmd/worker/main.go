// The worker binary runs the issuance pipeline's consumers: the publish
// consumer that turns queued requests into grants, and the DLQ consumer that
// observes dead-lettered events. When a consumer stops on an error it is
// rebuilt from scratch with backoff: the fresh group reader rejoins at the
// last committed offset, so a message left unacknowledged is redelivered and
// absorbed by the idempotency check rather than skipped.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hhplus-commerce/coupon-pipeline/internal/cache"
	"github.com/hhplus-commerce/coupon-pipeline/internal/config"
	"github.com/hhplus-commerce/coupon-pipeline/internal/consumer"
	"github.com/hhplus-commerce/coupon-pipeline/internal/lock"
	"github.com/hhplus-commerce/coupon-pipeline/internal/repository"
	"github.com/hhplus-commerce/coupon-pipeline/internal/service"
	"github.com/hhplus-commerce/coupon-pipeline/pkg/database"
)

const restartBackoff = 2 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	couponRepo := repository.NewCouponRepository(pool)
	userCouponRepo := repository.NewUserCouponRepository(pool)
	deadLetterRepo := repository.NewDeadLetterRepository(pool)
	reservations := cache.NewReservationStore(redisClient, cfg.Cache.PendingTTL, cfg.Cache.ReservationTTL)
	couponLock := lock.NewCouponLock(redisClient, cfg.Lock.WaitTimeout, cfg.Lock.RetryInterval, cfg.Lock.TTL)

	issueService := service.NewIssueService(pool, couponRepo, userCouponRepo, reservations, couponLock)

	log.Info().
		Str("publish_topic", cfg.Kafka.PublishTopic).
		Str("dlq_topic", cfg.Kafka.DLQTopic).
		Str("consumer_group", cfg.Kafka.ConsumerGroup).
		Str("replay_policy", cfg.Kafka.ReplayPolicy).
		Msg("starting pipeline worker")

	var wg sync.WaitGroup
	wg.Add(2)
	go supervise(ctx, &wg, "publish-consumer", func() pipelineConsumer {
		return consumer.NewConsumer(cfg.Kafka, issueService)
	})
	go supervise(ctx, &wg, "dlq-consumer", func() pipelineConsumer {
		return consumer.NewDLQConsumer(cfg.Kafka, deadLetterRepo)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()
	wg.Wait()

	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis client")
	}
	pool.Close()
	log.Info().Msg("worker stopped")
}

// pipelineConsumer is the lifecycle supervise manages.
type pipelineConsumer interface {
	Run(ctx context.Context) error
	Close() error
}

// supervise runs consumers built by build until the context is cancelled.
// Each attempt gets a brand-new consumer: Run returning an error means a
// fetched message is still unresolved, and only closing the group reader and
// rejoining makes Kafka hand that offset out again. Re-running a live reader
// would fetch the next offset and, because commits are cumulative, silently
// consume the unresolved message.
func supervise(ctx context.Context, wg *sync.WaitGroup, name string, build func() pipelineConsumer) {
	defer wg.Done()
	for {
		c := build()
		err := c.Run(ctx)
		if closeErr := c.Close(); closeErr != nil {
			log.Error().Err(closeErr).Str("consumer", name).Msg("error closing consumer")
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("consumer", name).Dur("backoff", restartBackoff).Msg("consumer stopped, rebuilding")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartBackoff):
		}
	}
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
