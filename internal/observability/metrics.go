package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showtix_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	ReserveConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showtix_reserve_conflicts_total",
			Help: "Reservations rejected because the ticket was held or reserved",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "showtix_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "showtix_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox row",
		},
	)

	PublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showtix_publish_retries_total",
			Help: "Total broker publish retries",
		},
	)

	ExpiredSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showtix_expired_swept_total",
			Help: "Reservations forced to expired by the reaper",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "showtix_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
