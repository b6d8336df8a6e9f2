package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/showtix/showtix/internal/adapters/rabbit"
	"github.com/showtix/showtix/internal/config"
	"github.com/showtix/showtix/internal/observability"
	"github.com/showtix/showtix/internal/search"
)

// The catalog's change feed is routed into this queue by the CDC
// pipeline; each message carries before/after row images for one show.
const changeFeedQueue = "shows.changefeed"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger()

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{cfg.ElasticAddr}})
	if err != nil {
		log.Fatalf("failed to create elasticsearch client: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, changeFeedQueue)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	indexer := search.NewIndexer(es, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := indexer.EnsureIndex(ctx); err != nil {
		log.Fatalf("failed to ensure shows index: %v", err)
	}

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to start consuming: %v", err)
	}

	done := make(chan struct{})
	go func() {
		indexer.Run(ctx, deliveries)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	<-done
	logger.Info("Shutdown shows indexer")
}
