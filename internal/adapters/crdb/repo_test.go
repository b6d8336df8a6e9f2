package crdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/showtix/showtix/internal/adapters/crdb"
	"github.com/showtix/showtix/internal/domain"
)

func setupRepo(t *testing.T) (*crdb.Repository, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	dsn, err := crdbContainer.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/showtix?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		CREATE DATABASE IF NOT EXISTS showtix;
		CREATE TABLE IF NOT EXISTS showtix.users (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS showtix.tickets (
			id UUID PRIMARY KEY,
			show_id UUID NOT NULL,
			status TEXT NOT NULL DEFAULT 'available' CHECK (status IN ('available', 'sold')),
			price NUMERIC(10, 2) NOT NULL,
			seat TEXT,
			holder_id UUID
		);
		CREATE TABLE IF NOT EXISTS showtix.bookings (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			ticket_id UUID NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('reserved', 'confirmed', 'cancelled', 'expired')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL,
			confirmed_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			lock_token TEXT NOT NULL,
			UNIQUE (ticket_id) WHERE status = 'reserved'
		);
		CREATE TABLE IF NOT EXISTS showtix.outbox (
			id UUID PRIMARY KEY,
			booking_id UUID NOT NULL,
			event_type TEXT NOT NULL,
			payload_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			published_at TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
			dedupe_key TEXT NOT NULL
		);
	`)
	if err != nil {
		t.Fatal(err)
	}

	return crdb.NewRepository(pool), pool
}

func seedTicketAndUser(t *testing.T, pool *pgxpool.Pool) (ticketID, userID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	ticketID, userID = uuid.New(), uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO users (id, name, email) VALUES ($1, 'alice', 'alice@example.com')`, userID)
	if err != nil {
		t.Fatal(err)
	}
	_, err = pool.Exec(ctx, `INSERT INTO tickets (id, show_id, status, price, seat) VALUES ($1, $2, 'available', 50.00, 'A1')`, ticketID, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	return ticketID, userID
}

func reservation(ticketID, userID uuid.UUID, expiresAt time.Time) domain.Booking {
	return domain.Booking{
		ID:        uuid.New(),
		UserID:    userID,
		TicketID:  ticketID,
		Status:    domain.BookingReserved,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		LockToken: uuid.New().String(),
	}
}

func TestCreateReservationConflict(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	ticketID, userID := seedTicketAndUser(t, pool)

	b := reservation(ticketID, userID, time.Now().UTC().Add(10*time.Minute))
	if err := repo.CreateReservation(ctx, b, "booking_created", []byte(`{}`)); err != nil {
		t.Fatalf("first reservation: %v", err)
	}

	rival := reservation(ticketID, uuid.New(), time.Now().UTC().Add(10*time.Minute))
	err := repo.CreateReservation(ctx, rival, "booking_created", []byte(`{}`))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second reservation: want ErrConflict, got %v", err)
	}

	missing := reservation(uuid.New(), userID, time.Now().UTC().Add(10*time.Minute))
	err = repo.CreateReservation(ctx, missing, "booking_created", []byte(`{}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing ticket: want ErrNotFound, got %v", err)
	}

	var outboxCount int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE booking_id = $1 AND status = 'NEW'`, b.ID).Scan(&outboxCount); err != nil {
		t.Fatal(err)
	}
	if outboxCount != 1 {
		t.Errorf("outbox rows = %d, want 1", outboxCount)
	}
}

func TestConfirmBookingCAS(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	ticketID, userID := seedTicketAndUser(t, pool)

	b := reservation(ticketID, userID, time.Now().UTC().Add(10*time.Minute))
	if err := repo.CreateReservation(ctx, b, "booking_created", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if err := repo.ConfirmBooking(ctx, b.ID, userID, now, "booking_confirmed", []byte(`{}`)); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	got, err := repo.GetBooking(ctx, b.ID, userID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.BookingConfirmed || got.ConfirmedAt == nil {
		t.Errorf("booking after confirm = %+v", got)
	}

	ticket, err := repo.GetTicket(ctx, ticketID)
	if err != nil {
		t.Fatal(err)
	}
	if ticket.Status != domain.TicketSold || ticket.HolderID == nil || *ticket.HolderID != userID {
		t.Errorf("ticket after confirm = %+v", ticket)
	}

	// Second confirm hits the status CAS and no-ops.
	err = repo.ConfirmBooking(ctx, b.ID, userID, now, "booking_confirmed", []byte(`{}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("double confirm: want ErrNotFound, got %v", err)
	}
}

func TestConfirmAfterDeadlineRejected(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	ticketID, userID := seedTicketAndUser(t, pool)

	b := reservation(ticketID, userID, time.Now().UTC().Add(-time.Second))
	if err := repo.CreateReservation(ctx, b, "booking_created", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	err := repo.ConfirmBooking(ctx, b.ID, userID, now, "booking_confirmed", []byte(`{}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("confirm past deadline: want ErrNotFound, got %v", err)
	}

	if err := repo.ExpireBooking(ctx, b.ID, now, "booking_expired", []byte(`{}`)); err != nil {
		t.Fatalf("expire: %v", err)
	}

	// Expire won; a late confirm must lose the race.
	err = repo.ConfirmBooking(ctx, b.ID, userID, now, "booking_confirmed", []byte(`{}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("confirm after expire: want ErrNotFound, got %v", err)
	}

	ticket, err := repo.GetTicket(ctx, ticketID)
	if err != nil {
		t.Fatal(err)
	}
	if ticket.Status != domain.TicketAvailable {
		t.Errorf("ticket after expire = %s, want available", ticket.Status)
	}
}

func TestExpiredReservationsListing(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	lapsedTicket, lapsedUser := seedTicketAndUser(t, pool)
	lapsed := reservation(lapsedTicket, lapsedUser, time.Now().UTC().Add(-time.Minute))
	if err := repo.CreateReservation(ctx, lapsed, "booking_created", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	freshTicket, freshUser := seedTicketAndUser(t, pool)
	fresh := reservation(freshTicket, freshUser, time.Now().UTC().Add(10*time.Minute))
	if err := repo.CreateReservation(ctx, fresh, "booking_created", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ExpiredReservations(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != lapsed.ID {
		t.Fatalf("expired listing = %+v, want only the lapsed booking", got)
	}
}

func TestOutboxDrainLifecycle(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	ticketID, userID := seedTicketAndUser(t, pool)

	b := reservation(ticketID, userID, time.Now().UTC().Add(10*time.Minute))
	if err := repo.CreateReservation(ctx, b, "booking_created", []byte(`{"event_type":"booking_created"}`)); err != nil {
		t.Fatal(err)
	}

	records, err := repo.UnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].EventType != "booking_created" {
		t.Fatalf("unpublished = %+v", records)
	}

	if err := repo.MarkPublished(ctx, records[0].ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	records, err = repo.UnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("drained outbox still has %d rows", len(records))
	}
}
