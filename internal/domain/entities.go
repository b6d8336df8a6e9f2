package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID    uuid.UUID
	Name  string
	Email string
}

type Show struct {
	ID          uuid.UUID
	Name        string
	Location    string
	StartTime   time.Time
	Description string
	Performer   string
}

type Ticket struct {
	ID     uuid.UUID
	ShowID uuid.UUID
	Status TicketStatus
	Price  float64
	Seat   string
	// HolderID is set when the ticket is sold.
	HolderID *uuid.UUID
}

type Booking struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	TicketID    uuid.UUID
	Status      BookingStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConfirmedAt *time.Time
	CancelledAt *time.Time
	// LockToken is the fencing token issued when the ticket lock was
	// acquired for this reservation. The reaper releases the lock with it.
	LockToken string
}

func NewReservation(ticketID, userID uuid.UUID, lockToken string, holdTTL time.Duration) Booking {
	now := time.Now().UTC()
	return Booking{
		ID:        uuid.New(),
		UserID:    userID,
		TicketID:  ticketID,
		Status:    BookingReserved,
		CreatedAt: now,
		ExpiresAt: now.Add(holdTTL),
		LockToken: lockToken,
	}
}

// Expired reports whether the reservation deadline has passed at ref.
func (b Booking) Expired(ref time.Time) bool {
	return ref.After(b.ExpiresAt)
}
