package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quickshop-io/checkout-engine/internal/config"
	delivery "github.com/quickshop-io/checkout-engine/internal/delivery/http"
	"github.com/quickshop-io/checkout-engine/internal/messaging"
	"github.com/quickshop-io/checkout-engine/internal/messaging/kafka"
	"github.com/quickshop-io/checkout-engine/internal/metrics"
	"github.com/quickshop-io/checkout-engine/internal/repository/postgres"
	"github.com/quickshop-io/checkout-engine/internal/service"
	"github.com/quickshop-io/checkout-engine/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Database ---
	db, err := postgres.InitDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to init database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.SeedDemoData {
		if err := postgres.SeedDemoData(db); err != nil {
			slog.Error("Failed to seed demo data", "err", err)
			os.Exit(1)
		}
	}

	stores, uow := postgres.New(db)

	// --- Messaging ---
	var publisher messaging.Publisher = messaging.NopPublisher{}
	var broker *kafka.Broker
	if len(cfg.KafkaBrokers) > 0 {
		broker = kafka.NewBroker(cfg.KafkaBrokers)
		defer broker.Close()
		publisher = broker
	} else {
		slog.Warn("KAFKA_BROKERS not set, events will be dropped")
	}

	// --- Sessions ---
	var sessions session.Manager
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to redis", "err", err)
			os.Exit(1)
		}
		sessions = session.NewRedisManager(redisClient, cfg.SessionTTL)
	} else {
		slog.Warn("REDIS_ADDR not set, using in-memory sessions")
		sessions = session.NewMemoryManager(cfg.SessionTTL)
	}

	// --- Services ---
	pricing := service.PricingPolicy{
		ShippingFlat:     cfg.ShippingFlat,
		FreeShippingOver: cfg.FreeShippingOver,
		TaxRate:          cfg.TaxRate,
	}
	catalogSvc := service.NewCatalogService(stores)
	cartSvc := service.NewCartService(stores)
	checkoutSvc := service.NewCheckoutService(stores, uow, publisher, pricing)
	orderSvc := service.NewOrderService(stores, uow, publisher)

	// Consumer: payments.confirmed → payment status on the order
	if broker != nil {
		go broker.Consume(ctx, messaging.TopicPaymentsConfirmed, "checkout-engine-payments", service.PaymentConfirmationHandler(orderSvc))
		slog.Info("🔄 Kafka consumers started")
	}

	// --- HTTP API ---
	handler := delivery.NewHandler(catalogSvc, cartSvc, checkoutSvc, orderSvc, sessions, cfg.AdminKey, db.PingContext)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           delivery.EnableCORS(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("🚀 HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "err", err)
	}
}
