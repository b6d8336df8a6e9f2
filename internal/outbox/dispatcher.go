// Package outbox drains pending lifecycle events to the broker. The event
// intent is written in the same transaction as the state change; this
// dispatcher gives it at-least-once delivery afterwards, so a crash
// between commit and publish cannot silently drop an event.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/showtix/showtix/internal/adapters/crdb"
	"github.com/showtix/showtix/internal/events"
	"github.com/showtix/showtix/internal/observability"
)

const maxPublishAttempts = 3

// Store is the outbox slice of the repository.
type Store interface {
	UnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// Broker publishes one message to the durable channel.
type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Dispatcher struct {
	store    Store
	broker   Broker
	logger   observability.Logger
	interval time.Duration
	batch    int
}

func NewDispatcher(store Store, broker Broker, logger observability.Logger, interval time.Duration, batch int) *Dispatcher {
	return &Dispatcher{store: store, broker: broker, logger: logger, interval: interval, batch: batch}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.logger.Error("outbox drain failed: ", err)
			}
		}
	}
}

// DrainOnce publishes one batch of pending rows and returns how many went
// out. Rows whose retries exhaust are marked FAILED and skipped; they are
// left for reconciliation rather than blocking younger events.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	records, err := d.store.UnpublishedOutbox(ctx, d.batch)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range records {
		if err := d.publishWithRetry(ctx, rec); err != nil {
			d.logger.WithField("outbox_id", rec.ID).Error("publish retries exhausted: ", err)
			if err := d.store.MarkFailed(ctx, rec.ID); err != nil {
				d.logger.WithField("outbox_id", rec.ID).Error("failed to park outbox row: ", err)
			}
			continue
		}
		if err := d.store.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
			// The row stays NEW and the message goes out again next
			// drain; consumers dedupe on the message id.
			d.logger.WithField("outbox_id", rec.ID).Warn("failed to mark published: ", err)
			continue
		}
		published++
	}
	return published, nil
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, rec crdb.OutboxRecord) error {
	msg := amqp.Publishing{
		MessageId:     rec.DedupeKey,
		CorrelationId: rec.BookingID.String(),
		ContentType:   "application/json",
		Body:          rec.Payload,
	}
	key := events.RoutingKey(rec.EventType)

	var err error
	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		if attempt > 0 {
			observability.PublishRetries.Inc()
			backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err = d.broker.Publish(ctx, key, msg); err == nil {
			return nil
		}
	}
	return err
}
