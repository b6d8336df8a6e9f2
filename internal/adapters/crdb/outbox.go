package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type OutboxStatus string

const (
	OutboxNew       OutboxStatus = "NEW"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// OutboxRecord is a pending lifecycle event, written in the same
// transaction as the state change it describes.
type OutboxRecord struct {
	ID          uuid.UUID
	BookingID   uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
	Status      OutboxStatus
	DedupeKey   string
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, eventType string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, booking_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, 'NEW', $5)
	`, uuid.New(), bookingID, eventType, payload, uuid.New().String())
	return err
}

// UnpublishedOutbox claims up to limit NEW rows, oldest first. SKIP LOCKED
// lets concurrent dispatcher replicas drain disjoint batches.
func (r *Repository) UnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.BookingID, &rec.EventType, &rec.Payload,
			&rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}

// MarkFailed parks a row whose publish retries are exhausted. Failed rows
// are left for manual reconciliation rather than blocking the drain.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox SET status = 'FAILED' WHERE id = $1
	`, id)
	return err
}
