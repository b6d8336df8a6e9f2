package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/showtix/showtix/internal/domain"
	"github.com/showtix/showtix/internal/observability"
)

// AuditLogger appends one document per lifecycle transition. Best effort:
// callers log and move on when an insert fails.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("booking_audit"),
		logger: logger,
	}
}

type AuditEntry struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	BookingID uuid.UUID `bson:"booking_id"`
	UserID    uuid.UUID `bson:"user_id"`
	TicketID  uuid.UUID `bson:"ticket_id"`
	Status    string    `bson:"status"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) RecordTransition(ctx context.Context, action string, b domain.Booking) error {
	entry := AuditEntry{
		ID:        uuid.New(),
		Action:    action,
		BookingID: b.ID,
		UserID:    b.UserID,
		TicketID:  b.TicketID,
		Status:    string(b.Status),
		Timestamp: time.Now().UTC(),
		Data: bson.M{
			"created_at": b.CreatedAt.Format(time.RFC3339),
			"expires_at": b.ExpiresAt.Format(time.RFC3339),
		},
	}
	_, err := a.coll.InsertOne(ctx, entry)
	if err != nil {
		a.logger.Error("failed to insert audit entry", err)
		return err
	}
	return nil
}
