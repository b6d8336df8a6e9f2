package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/showtix/showtix/internal/adapters/crdb"
	redisadapter "github.com/showtix/showtix/internal/adapters/redis"
	"github.com/showtix/showtix/internal/booking"
	"github.com/showtix/showtix/internal/config"
	"github.com/showtix/showtix/internal/lock"
	"github.com/showtix/showtix/internal/observability"
	"github.com/showtix/showtix/internal/reaper"
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

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	ticketLock := lock.NewTicketLock(redisadapter.NewStore(redisClient))

	engine := booking.NewEngine(repo, ticketLock, logger, cfg.HoldTTL)
	r := reaper.New(engine, logger, cfg.SweepInterval, cfg.SweepBatch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	// Let an in-flight sweep finish before exiting.
	<-done
	logger.Info("Shutdown reaper")
}
