// Package main starts the escrow HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bazaar/internal/config"
	"bazaar/internal/gateway"
	"bazaar/internal/handlers"
	"bazaar/internal/kafka"
	"bazaar/internal/repositories"
	"bazaar/internal/repositories/cache"
	"bazaar/internal/routes"
	"bazaar/internal/services/escrow"
	"bazaar/internal/services/notification"
	"bazaar/internal/services/seller"
	"bazaar/internal/services/transaction"
	"bazaar/internal/services/webhook"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func newLogger() *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if config.IsProduction() {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return log
}

func main() {
	config.LoadEnv()
	cfg := config.Load()

	log := newLogger()
	err := run(cfg, log)
	if err != nil {
		log.Error("server exited", zap.Error(err))
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run opens every resource it needs and closes them before returning.
func run(cfg *config.Config, log *zap.Logger) error {
	db, err := repositories.InitDB(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer func() {
		if err := repositories.Close(db); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()
	if err := repositories.Migrate(db); err != nil {
		return fmt.Errorf("migration: %w", err)
	}

	cacheService := cache.NewCacheService(cache.NewRedisClient(&cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), 10*time.Minute)
	defer cacheService.Close()
	if err := cacheService.HealthCheck(context.Background()); err != nil {
		log.Warn("redis unavailable, wrong-code limiting fails open", zap.Error(err))
	}

	var notifier notification.ChatNotifier = notification.NewLogNotifier(log)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, kafka.DefaultOptions, log)
		if err != nil {
			return fmt.Errorf("kafka producer init: %w", err)
		}
		defer producer.Close()
		notifier = notification.NewKafkaNotifier(producer, cfg.Kafka.ChatTopic, log)
	} else {
		log.Warn("KAFKA_BROKERS not set, system chat messages are only logged")
	}

	if cfg.Stripe.SecretKey == "" || cfg.Stripe.WebhookSecret == "" {
		log.Warn("stripe credentials incomplete, payment calls and webhooks will fail")
	}
	stripeGateway := gateway.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, log)

	txRepo := repositories.NewTransactionRepository(db)
	sellerRepo := repositories.NewSellerAccountRepository(db)
	listingRepo := repositories.NewListingRepository(db)
	transactor := repositories.NewTransactor(db)

	sellerService := seller.NewService(sellerRepo, stripeGateway, cfg.Escrow.AppBaseURL, log)

	deps := routes.Dependencies{
		Transactions: transaction.NewService(transaction.Config{
			Transactions: txRepo,
			Catalog:      listingRepo,
			Transactor:   transactor,
			Notifier:     notifier,
			Logger:       log,
		}),
		Escrow: escrow.NewService(escrow.Config{
			Transactions: txRepo,
			Sellers:      sellerRepo,
			Catalog:      listingRepo,
			Transactor:   transactor,
			Gateway:      stripeGateway,
			Notifier:     notifier,
			Limiter:      cache.NewAttemptLimiter(cacheService, cfg.Escrow.CodeMaxAttempts, cfg.Escrow.CodeAttemptWindow),
			Intents:      cache.NewIntentCache(cacheService),
			Fees:         escrow.NewFeeCalculator(cfg.Escrow.PlatformFeeRate),
			Currency:     cfg.Escrow.Currency,
			ClaimTTL:     cfg.Escrow.ClaimTTL,
			Logger:       log,
		}),
		Sellers: sellerService,
		Webhooks: webhook.NewProcessor(webhook.Config{
			Verifier:     stripeGateway,
			Ledger:       repositories.NewWebhookLedger(db),
			Transactions: txRepo,
			Accounts:     sellerService,
			Transactor:   transactor,
			Notifier:     notifier,
			Logger:       log,
		}),
		JWTSecret: cfg.JWTSecret,
		HealthChecks: map[string]handlers.Pinger{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			"redis": cacheService.HealthCheck,
		},
		Logger:       log,
		CaptureLimit: 20,
	}

	app := fiber.New(fiber.Config{
		AppName:      "bazaar-escrow",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,HEAD,OPTIONS",
	}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.SetupRoutes(app, deps)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()

	log.Info("listening", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
