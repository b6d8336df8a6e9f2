// Package events defines the lifecycle event records appended to the
// durable channel. Events are immutable facts; the core writes them and
// never reads them back.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/showtix/showtix/internal/domain"
)

const (
	TypeBookingCreated   = "booking_created"
	TypeBookingConfirmed = "booking_confirmed"
	TypeBookingCancelled = "booking_cancelled"
	TypeBookingExpired   = "booking_expired"
)

// RoutingKey maps an event type to its broker routing key,
// e.g. booking_created -> booking.created.
func RoutingKey(eventType string) string {
	switch eventType {
	case TypeBookingCreated:
		return "booking.created"
	case TypeBookingConfirmed:
		return "booking.confirmed"
	case TypeBookingCancelled:
		return "booking.cancelled"
	case TypeBookingExpired:
		return "booking.expired"
	}
	return "booking.unknown"
}

type BookingSnapshot struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	TicketID    uuid.UUID  `json:"ticket_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

type UserSnapshot struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Envelope is the flat record published to the event channel, partitioned
// by booking id.
type Envelope struct {
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Booking   BookingSnapshot `json:"booking"`
	User      UserSnapshot    `json:"user"`
}

func NewEnvelope(eventType string, booking domain.Booking, user domain.User) Envelope {
	return Envelope{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Booking: BookingSnapshot{
			ID:          booking.ID,
			UserID:      booking.UserID,
			TicketID:    booking.TicketID,
			Status:      string(booking.Status),
			CreatedAt:   booking.CreatedAt,
			ConfirmedAt: booking.ConfirmedAt,
			CancelledAt: booking.CancelledAt,
			ExpiresAt:   booking.ExpiresAt,
		},
		User: UserSnapshot{
			ID:    user.ID,
			Name:  user.Name,
			Email: user.Email,
		},
	}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
