// Package booking drives the reservation state machine: reserve, confirm,
// cancel, and forced expiry. Mutual exclusion during the reservation race
// is delegated to the distributed ticket lock; the booking insert's
// uniqueness guarantee is the actual source of truth, with the lock acting
// as an admission filter in front of it.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/showtix/showtix/internal/domain"
	"github.com/showtix/showtix/internal/events"
	"github.com/showtix/showtix/internal/lock"
	"github.com/showtix/showtix/internal/observability"
)

// Store is the booking repository surface the engine composes. Each write
// is a single transaction that applies the state change together with its
// outbox row; the engine never spans a transaction across a lock round
// trip.
type Store interface {
	GetTicket(ctx context.Context, ticketID uuid.UUID) (*domain.Ticket, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error)
	GetBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	ActiveReservation(ctx context.Context, ticketID uuid.UUID) (*domain.Booking, error)
	ListBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Booking, error)
	CreateReservation(ctx context.Context, b domain.Booking, eventType string, payload []byte) error
	ConfirmBooking(ctx context.Context, bookingID, userID uuid.UUID, now time.Time, eventType string, payload []byte) error
	CancelBooking(ctx context.Context, bookingID, userID uuid.UUID, now time.Time, eventType string, payload []byte) error
	ExpireBooking(ctx context.Context, bookingID uuid.UUID, now time.Time, eventType string, payload []byte) error
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
}

// Locker is the distributed ticket lock surface.
type Locker interface {
	Acquire(ctx context.Context, ticketID uuid.UUID, ttl time.Duration) (string, error)
	Release(ctx context.Context, ticketID uuid.UUID, token string) (bool, error)
	Owner(ctx context.Context, ticketID uuid.UUID) (string, error)
}

// Auditor records lifecycle transitions out of band. Best effort.
type Auditor interface {
	RecordTransition(ctx context.Context, action string, b domain.Booking) error
}

type Engine struct {
	store   Store
	locks   Locker
	audit   Auditor
	logger  observability.Logger
	holdTTL time.Duration
}

func NewEngine(store Store, locks Locker, logger observability.Logger, holdTTL time.Duration) *Engine {
	return &Engine{store: store, locks: locks, logger: logger, holdTTL: holdTTL}
}

// WithAuditor attaches an optional transition audit trail.
func (e *Engine) WithAuditor(a Auditor) *Engine {
	e.audit = a
	return e
}

// Reserve attempts to hold a ticket for userID until the hold TTL lapses.
// Returns ErrNotFound for a missing or unavailable ticket, ErrConflict
// when another holder has it, and a transient error (marked
// ErrUnavailable) when the lock store is unreachable.
func (e *Engine) Reserve(ctx context.Context, ticketID, userID uuid.UUID) (*domain.Booking, error) {
	ticket, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != domain.TicketAvailable {
		return nil, domain.ErrNotFound
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	token, err := e.locks.Acquire(ctx, ticketID, e.holdTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		// Same requester retrying? Their active reservation is the
		// idempotent answer. Anything else is a plain conflict.
		active, aerr := e.store.ActiveReservation(ctx, ticketID)
		if aerr == nil && active.UserID == userID {
			return active, nil
		}
		observability.ReserveConflicts.Inc()
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, errors.Mark(err, domain.ErrUnavailable)
	}

	b := domain.NewReservation(ticketID, userID, token, e.holdTTL)
	payload, err := events.NewEnvelope(events.TypeBookingCreated, b, *user).Marshal()
	if err != nil {
		e.releaseLock(ctx, ticketID, token)
		return nil, err
	}

	// Any insert failure must release the lock before returning, so the
	// ticket is not stranded until the TTL runs out.
	if err := e.store.CreateReservation(ctx, b, events.TypeBookingCreated, payload); err != nil {
		e.releaseLock(ctx, ticketID, token)
		if errors.Is(err, domain.ErrConflict) {
			observability.ReserveConflicts.Inc()
		}
		return nil, err
	}

	e.recordAudit(ctx, "booking.reserved", b)
	return &b, nil
}

// Confirm finalizes a reservation before its deadline: the ticket flips to
// sold, the booking to confirmed, and the lock is released. A lapsed
// booking is opportunistically expired and reported as not confirmable.
func (e *Engine) Confirm(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error) {
	b, err := e.store.GetBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingReserved {
		return nil, domain.ErrNotFound
	}

	now := time.Now().UTC()
	if b.Expired(now) {
		e.expireLapsed(ctx, *b, now)
		return nil, errors.Mark(domain.ErrExpired, domain.ErrNotFound)
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	confirmed := *b
	confirmed.Status = domain.BookingConfirmed
	confirmed.ConfirmedAt = &now

	payload, err := events.NewEnvelope(events.TypeBookingConfirmed, confirmed, *user).Marshal()
	if err != nil {
		return nil, err
	}

	// The compare-and-swap inside ConfirmBooking settles a race with the
	// reaper: whichever transition commits first wins and the loser
	// surfaces as not found.
	if err := e.store.ConfirmBooking(ctx, bookingID, userID, now, events.TypeBookingConfirmed, payload); err != nil {
		return nil, err
	}

	e.releaseLock(ctx, b.TicketID, b.LockToken)
	e.recordAudit(ctx, "booking.confirmed", confirmed)
	return &confirmed, nil
}

// Cancel voids a reservation while it is still in reserved state, lapsed
// or not. The ticket was never mutated by Reserve, so it simply stays
// available.
func (e *Engine) Cancel(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error) {
	b, err := e.store.GetBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingReserved {
		return nil, domain.ErrNotFound
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cancelled := *b
	cancelled.Status = domain.BookingCancelled
	cancelled.CancelledAt = &now

	payload, err := events.NewEnvelope(events.TypeBookingCancelled, cancelled, *user).Marshal()
	if err != nil {
		return nil, err
	}

	if err := e.store.CancelBooking(ctx, bookingID, userID, now, events.TypeBookingCancelled, payload); err != nil {
		return nil, err
	}

	e.releaseLock(ctx, b.TicketID, b.LockToken)
	e.recordAudit(ctx, "booking.cancelled", cancelled)
	return &cancelled, nil
}

// ForceExpire drives the reserved -> expired transition for a booking past
// its deadline. Invoked by the reaper; safe to race with Confirm because
// the storage-level status check serializes the two.
func (e *Engine) ForceExpire(ctx context.Context, bookingID uuid.UUID) error {
	b, err := e.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if b.Status != domain.BookingReserved || !b.Expired(now) {
		return domain.ErrNotFound
	}
	return e.expireLapsed(ctx, *b, now)
}

// SweepExpired expires every lapsed reservation up to limit, isolating
// per-booking failures, and returns the number expired.
func (e *Engine) SweepExpired(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	lapsed, err := e.store.ExpiredReservations(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, b := range lapsed {
		if err := e.expireLapsed(ctx, b, now); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Confirmed or cancelled since the scan; nothing to do.
				continue
			}
			e.logger.WithField("booking_id", b.ID).Error("failed to expire reservation: ", err)
			continue
		}
		count++
		observability.ExpiredSwept.Inc()
	}
	return count, nil
}

func (e *Engine) GetBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error) {
	return e.store.GetBooking(ctx, bookingID, userID)
}

func (e *Engine) ListBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Booking, error) {
	return e.store.ListBookings(ctx, userID, limit, offset)
}

func (e *Engine) expireLapsed(ctx context.Context, b domain.Booking, now time.Time) error {
	expired := b
	expired.Status = domain.BookingExpired

	var payload []byte
	if user, err := e.store.GetUser(ctx, b.UserID); err == nil {
		payload, err = events.NewEnvelope(events.TypeBookingExpired, expired, *user).Marshal()
		if err != nil {
			return err
		}
	} else {
		payload, _ = events.NewEnvelope(events.TypeBookingExpired, expired, domain.User{ID: b.UserID}).Marshal()
	}

	if err := e.store.ExpireBooking(ctx, b.ID, now, events.TypeBookingExpired, payload); err != nil {
		return err
	}

	// The token persisted on the booking row fences the delete: if the
	// lock already expired and someone else acquired it, this is a no-op.
	e.releaseLock(ctx, b.TicketID, b.LockToken)
	e.recordAudit(ctx, "booking.expired", expired)
	return nil
}

func (e *Engine) releaseLock(ctx context.Context, ticketID uuid.UUID, token string) {
	if _, err := e.locks.Release(ctx, ticketID, token); err != nil {
		// The TTL reclaims it eventually; worst case the ticket stays
		// fenced until then.
		e.logger.WithField("ticket_id", ticketID).Warn("failed to release ticket lock: ", err)
	}
}

func (e *Engine) recordAudit(ctx context.Context, action string, b domain.Booking) {
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordTransition(ctx, action, b); err != nil {
		e.logger.WithField("booking_id", b.ID).Warn("failed to record audit entry: ", err)
	}
}
