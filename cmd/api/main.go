package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/payment-orders/internal/adapters/mongo"
	"github.com/robertarktes/payment-orders/internal/adapters/postgres"
	redisadapter "github.com/robertarktes/payment-orders/internal/adapters/redis"
	"github.com/robertarktes/payment-orders/internal/attendance"
	"github.com/robertarktes/payment-orders/internal/config"
	"github.com/robertarktes/payment-orders/internal/gateway"
	httphandler "github.com/robertarktes/payment-orders/internal/http"
	"github.com/robertarktes/payment-orders/internal/idempotency"
	"github.com/robertarktes/payment-orders/internal/observability"
	"github.com/robertarktes/payment-orders/internal/order"
	"github.com/robertarktes/payment-orders/internal/ratelimit"
	"github.com/robertarktes/payment-orders/internal/reservation"
	"github.com/robertarktes/payment-orders/internal/signature"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("payments")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	archive := mongoadapter.NewGatewayArchive(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL, logger)
	rl := ratelimit.NewRateLimiter(cache)

	signer := signature.NewService(cfg.MerchantSalt, logger)
	gw := gateway.NewClient(cfg.GatewayURL, cfg.MerchantKey, signer)

	reservations := reservation.NewManager(repo, cfg.ReservationTTL, logger)
	bridge := attendance.NewBridge(reservations, repo, logger)
	orders := order.NewService(repo, catalog, gw, cache, logger,
		cfg.PlatformFeePercent, cfg.OrderTTL, "INR", cfg.SuccessURL, cfg.FailureURL)
	finalizer := order.NewFinalizer(repo, bridge, gw, archive, logger)

	ready := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return pool.Ping(ctx) == nil && redisClient.Ping(ctx).Err() == nil
	}

	handlers := httphandler.NewHandlers(cfg, orders, finalizer, reservations, idemp, ready)
	router := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.Info("payment orders API listening on :8080")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
