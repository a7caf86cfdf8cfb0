package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hhplus-commerce/coupon-pipeline/internal/cache"
	"github.com/hhplus-commerce/coupon-pipeline/internal/config"
	"github.com/hhplus-commerce/coupon-pipeline/internal/handler"
	"github.com/hhplus-commerce/coupon-pipeline/internal/producer"
	"github.com/hhplus-commerce/coupon-pipeline/internal/repository"
	"github.com/hhplus-commerce/coupon-pipeline/internal/service"
	"github.com/hhplus-commerce/coupon-pipeline/internal/validator"
	"github.com/hhplus-commerce/coupon-pipeline/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)

	ctx := context.Background()

	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	reservations := cache.NewReservationStore(redisClient, cfg.Cache.PendingTTL, cfg.Cache.ReservationTTL)

	publishProducer := producer.NewProducer(cfg.Kafka)

	app := fiber.New(fiber.Config{
		AppName:      "Coupon Issuance Pipeline API",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // 1MB, publish requests are tiny
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())

	validate := validator.New()

	couponRepo := repository.NewCouponRepository(pool)
	userCouponRepo := repository.NewUserCouponRepository(pool)
	couponService := service.NewCouponService(couponRepo, userCouponRepo)

	couponHandler := handler.NewCouponHandler(couponService, validate)
	publishHandler := handler.NewPublishHandler(publishProducer, couponService, validate)
	healthHandler := handler.NewHealthHandler(pool, reservations)

	app.Get("/health", healthHandler.Check)

	app.Post("/api/v1/coupons", couponHandler.CreateCoupon)
	app.Get("/api/v1/coupons/:id", couponHandler.GetCoupon)
	app.Post("/api/v1/users/:id/coupons/publish", publishHandler.PublishCoupon)
	app.Get("/api/v1/users/:id/coupons", publishHandler.GetUserCoupons)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("publish_topic", cfg.Kafka.PublishTopic).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Producer last among the request-path dependencies: in-flight publishes
	// flush before the writer closes.
	if err := publishProducer.Close(); err != nil {
		log.Error().Err(err).Msg("error closing producer")
	}
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis client")
	}
	pool.Close()
	log.Info().Msg("server stopped")
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
