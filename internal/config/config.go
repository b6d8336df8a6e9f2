package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN       string
	RedisAddr     string
	RabbitURL     string
	MongoURI      string
	ElasticAddr   string
	JWTSecret     string
	HoldTTL       time.Duration
	SweepInterval time.Duration
	SweepBatch    int
	OTLPEndpoint  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	holdTTL, _ := time.ParseDuration(os.Getenv("HOLD_TTL"))
	if holdTTL == 0 {
		holdTTL = 10 * time.Minute
	}

	// Sweep well inside the hold window so a lapsed reservation is
	// reclaimed shortly after its deadline.
	sweepInterval, _ := time.ParseDuration(os.Getenv("SWEEP_INTERVAL"))
	if sweepInterval == 0 {
		sweepInterval = holdTTL / 10
	}

	sweepBatch, _ := strconv.Atoi(os.Getenv("SWEEP_BATCH"))
	if sweepBatch <= 0 {
		sweepBatch = 100
	}

	return &Config{
		CRDBDSN:       os.Getenv("CRDB_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		MongoURI:      os.Getenv("MONGO_URI"),
		ElasticAddr:   os.Getenv("ELASTIC_ADDR"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		HoldTTL:       holdTTL,
		SweepInterval: sweepInterval,
		SweepBatch:    sweepBatch,
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}
