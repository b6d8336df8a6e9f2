package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memKV struct {
	mu   sync.Mutex
	vals map[string]string
	fail bool
}

func newMemKV() *memKV {
	return &memKV{vals: map[string]string{}}
}

var errDown = errors.New("kv down")

func (m *memKV) SetIfAbsent(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errDown
	}
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = value
	return true, nil
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", false, errDown
	}
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memKV) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errDown
	}
	if m.vals[key] != value {
		return false, nil
	}
	delete(m.vals, key)
	return true, nil
}

func TestAcquireMutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewTicketLock(newMemKV())
	ticket := uuid.New()

	token, err := l.Acquire(ctx, ticket, time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := l.Acquire(ctx, ticket, time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second acquire: want ErrNotAcquired, got %v", err)
	}

	owner, err := l.Owner(ctx, ticket)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != token {
		t.Errorf("owner = %q, want %q", owner, token)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewTicketLock(newMemKV())
	ticket := uuid.New()

	token, err := l.Acquire(ctx, ticket, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	released, err := l.Release(ctx, ticket, token)
	if err != nil || !released {
		t.Fatalf("release = (%v, %v), want (true, nil)", released, err)
	}

	released, err = l.Release(ctx, ticket, token)
	if err != nil {
		t.Fatalf("double release errored: %v", err)
	}
	if released {
		t.Error("double release reported a deletion")
	}

	if _, err := l.Owner(ctx, ticket); !errors.Is(err, ErrNoLock) {
		t.Errorf("owner after release: want ErrNoLock, got %v", err)
	}
}

func TestReleaseRequiresMatchingToken(t *testing.T) {
	ctx := context.Background()
	l := NewTicketLock(newMemKV())
	ticket := uuid.New()

	token, err := l.Acquire(ctx, ticket, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	released, err := l.Release(ctx, ticket, "stale-token")
	if err != nil {
		t.Fatal(err)
	}
	if released {
		t.Fatal("stale token released another holder's lock")
	}

	owner, err := l.Owner(ctx, ticket)
	if err != nil {
		t.Fatal(err)
	}
	if owner != token {
		t.Errorf("owner = %q, want original holder", owner)
	}
}

func TestStoreFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	kv.fail = true
	l := NewTicketLock(kv)

	if _, err := l.Acquire(ctx, uuid.New(), time.Minute); !errors.Is(err, errDown) {
		t.Errorf("acquire: want store error, got %v", err)
	}
	if _, err := l.Owner(ctx, uuid.New()); !errors.Is(err, errDown) {
		t.Errorf("owner: want store error, got %v", err)
	}
}
