package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/showtix/showtix/internal/adapters/crdb"
	"github.com/showtix/showtix/internal/observability"
)

type memOutbox struct {
	mu      sync.Mutex
	records []crdb.OutboxRecord
}

func (m *memOutbox) add(eventType string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := crdb.OutboxRecord{
		ID:        uuid.New(),
		BookingID: uuid.New(),
		EventType: eventType,
		Payload:   []byte(`{}`),
		CreatedAt: time.Now().UTC(),
		Status:    crdb.OutboxNew,
		DedupeKey: uuid.New().String(),
	}
	m.records = append(m.records, rec)
	return rec.ID
}

func (m *memOutbox) UnpublishedOutbox(_ context.Context, limit int) ([]crdb.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []crdb.OutboxRecord
	for _, r := range m.records {
		if r.Status == crdb.OutboxNew && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memOutbox) setStatus(id uuid.UUID, status crdb.OutboxStatus) {
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Status = status
		}
	}
}

func (m *memOutbox) MarkPublished(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatus(id, crdb.OutboxPublished)
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatus(id, crdb.OutboxFailed)
	return nil
}

func (m *memOutbox) status(id uuid.UUID) crdb.OutboxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return r.Status
		}
	}
	return ""
}

type flakyBroker struct {
	mu        sync.Mutex
	failFirst int
	attempts  int
	keys      []string
}

func (b *flakyBroker) Publish(_ context.Context, key string, _ amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.attempts <= b.failFirst {
		return errors.New("broker unavailable")
	}
	b.keys = append(b.keys, key)
	return nil
}

func TestDrainPublishesAndMarks(t *testing.T) {
	store := &memOutbox{}
	created := store.add("booking_created")
	confirmed := store.add("booking_confirmed")
	broker := &flakyBroker{}
	d := NewDispatcher(store, broker, observability.NewLogger(), time.Second, 10)

	n, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("published %d, want 2", n)
	}
	if store.status(created) != crdb.OutboxPublished || store.status(confirmed) != crdb.OutboxPublished {
		t.Error("records not marked published")
	}
	if len(broker.keys) != 2 || broker.keys[0] != "booking.created" || broker.keys[1] != "booking.confirmed" {
		t.Errorf("routing keys = %v", broker.keys)
	}
}

func TestDrainRetriesTransientFailure(t *testing.T) {
	store := &memOutbox{}
	id := store.add("booking_cancelled")
	broker := &flakyBroker{failFirst: 2}
	d := NewDispatcher(store, broker, observability.NewLogger(), time.Second, 10)

	n, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("published %d, want 1 after retries", n)
	}
	if store.status(id) != crdb.OutboxPublished {
		t.Error("record should be published after retry succeeds")
	}
	if broker.attempts != 3 {
		t.Errorf("attempts = %d, want 3", broker.attempts)
	}
}

func TestDrainParksExhaustedRecord(t *testing.T) {
	store := &memOutbox{}
	id := store.add("booking_created")
	survivor := store.add("booking_expired")
	broker := &flakyBroker{failFirst: 3}
	d := NewDispatcher(store, broker, observability.NewLogger(), time.Second, 10)

	n, err := d.DrainOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("published %d, want the survivor only", n)
	}
	if store.status(id) != crdb.OutboxFailed {
		t.Errorf("exhausted record status = %s, want FAILED", store.status(id))
	}
	if store.status(survivor) != crdb.OutboxPublished {
		t.Errorf("survivor status = %s, want PUBLISHED", store.status(survivor))
	}
}
