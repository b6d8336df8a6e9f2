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
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/showtix/showtix/internal/adapters/crdb"
	mongoadapter "github.com/showtix/showtix/internal/adapters/mongo"
	redisadapter "github.com/showtix/showtix/internal/adapters/redis"
	"github.com/showtix/showtix/internal/booking"
	"github.com/showtix/showtix/internal/config"
	httphandler "github.com/showtix/showtix/internal/http"
	"github.com/showtix/showtix/internal/idempotency"
	"github.com/showtix/showtix/internal/lock"
	"github.com/showtix/showtix/internal/observability"
	"github.com/showtix/showtix/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	lockStore := redisadapter.NewStore(redisClient)
	ticketLock := lock.NewTicketLock(lockStore)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := ratelimit.NewRateLimiter(lockStore)

	engine := booking.NewEngine(repo, ticketLock, logger, cfg.HoldTTL)

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		engine.WithAuditor(mongoadapter.NewAuditLogger(mongoClient.Database("showtix"), logger))
	}

	handlers := httphandler.NewHandlers(cfg, engine, idemp)
	r := httphandler.SetupRouter(handlers, logger, rl, cfg.JWTSecret)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

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
