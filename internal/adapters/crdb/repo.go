package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/showtix/showtix/internal/domain"
	"github.com/showtix/showtix/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) GetTicket(ctx context.Context, ticketID uuid.UUID) (*domain.Ticket, error) {
	var t domain.Ticket
	err := r.pool.QueryRow(ctx, `
		SELECT id, show_id, status, price, seat, holder_id
		FROM tickets WHERE id = $1
	`, ticketID).Scan(&t.ID, &t.ShowID, &t.Status, &t.Price, &t.Seat, &t.HolderID)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.Name, &u.Email)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const bookingColumns = `id, user_id, ticket_id, status, created_at, expires_at, confirmed_at, cancelled_at, lock_token`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.UserID, &b.TicketID, &b.Status, &b.CreatedAt,
		&b.ExpiresAt, &b.ConfirmedAt, &b.CancelledAt, &b.LockToken)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBooking is owner-scoped: a booking belonging to another user reads as
// absent.
func (r *Repository) GetBooking(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND user_id = $2
	`, bookingID, userID))
}

// GetBookingByID is the reaper's unscoped lookup.
func (r *Repository) GetBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = $1
	`, bookingID))
}

// ActiveReservation returns the single reserved booking for a ticket, if
// any. The partial unique index guarantees at most one exists.
func (r *Repository) ActiveReservation(ctx context.Context, ticketID uuid.UUID) (*domain.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE ticket_id = $1 AND status = 'reserved'
	`, ticketID))
}

func (r *Repository) ListBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// CreateReservation re-checks ticket availability, inserts the booking,
// and writes the event intent, all in one transaction. The partial unique
// index on (ticket_id) WHERE status = 'reserved' is the source of truth
// for "one active reservation per ticket"; the distributed lock only
// reduces contention ahead of it.
func (r *Repository) CreateReservation(ctx context.Context, b domain.Booking, eventType string, payload []byte) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		var status domain.TicketStatus
		err := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1`, b.TicketID).Scan(&status)
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if status != domain.TicketAvailable {
			return domain.ErrNotFound
		}

		result, err := tx.Exec(ctx, `
			INSERT INTO bookings (id, user_id, ticket_id, status, created_at, expires_at, lock_token)
			VALUES ($1, $2, $3, 'reserved', $4, $5, $6)
			ON CONFLICT (ticket_id) WHERE status = 'reserved' DO NOTHING
		`, b.ID, b.UserID, b.TicketID, b.CreatedAt, b.ExpiresAt, b.LockToken)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
				return domain.ErrConflict
			}
			return err
		}
		if result.RowsAffected() == 0 {
			return domain.ErrConflict
		}

		return r.insertOutbox(ctx, tx, b.ID, eventType, payload)
	})
}

// ConfirmBooking flips the booking to confirmed and the ticket to sold in
// one transaction. Both updates are compare-and-swap on status, so a
// racing forced expire makes this a no-op reported as ErrNotFound.
func (r *Repository) ConfirmBooking(ctx context.Context, bookingID, userID uuid.UUID, now time.Time, eventType string, payload []byte) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		var ticketID uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE bookings SET status = 'confirmed', confirmed_at = $3
			WHERE id = $1 AND user_id = $2 AND status = 'reserved' AND expires_at >= $3
			RETURNING ticket_id
		`, bookingID, userID, now).Scan(&ticketID)
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		result, err := tx.Exec(ctx, `
			UPDATE tickets SET status = 'sold', holder_id = $2
			WHERE id = $1 AND status = 'available'
		`, ticketID, userID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			// Ticket already sold out from under a reserved booking
			// breaks the core invariant; refuse to commit.
			return errors.Newf("ticket %s not available while booking %s reserved", ticketID, bookingID)
		}

		return r.insertOutbox(ctx, tx, bookingID, eventType, payload)
	})
}

// CancelBooking is allowed whenever the booking is still reserved, lapsed
// or not. The ticket row is untouched: reserving never changed it.
func (r *Repository) CancelBooking(ctx context.Context, bookingID, userID uuid.UUID, now time.Time, eventType string, payload []byte) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE bookings SET status = 'cancelled', cancelled_at = $3
			WHERE id = $1 AND user_id = $2 AND status = 'reserved'
		`, bookingID, userID, now)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return r.insertOutbox(ctx, tx, bookingID, eventType, payload)
	})
}

// ExpireBooking applies the forced expire transition, guarded so it only
// fires on reserved bookings past their deadline.
func (r *Repository) ExpireBooking(ctx context.Context, bookingID uuid.UUID, now time.Time, eventType string, payload []byte) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE bookings SET status = 'expired'
			WHERE id = $1 AND status = 'reserved' AND expires_at < $2
		`, bookingID, now)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return r.insertOutbox(ctx, tx, bookingID, eventType, payload)
	})
}

// ExpiredReservations lists reserved bookings past their deadline, oldest
// first, capped at limit.
func (r *Repository) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'reserved' AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}
