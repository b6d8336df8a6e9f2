// Package lock provides per-ticket mutual exclusion on top of a shared
// key/value store with atomic set-if-absent-with-expiry. The TTL bounds
// how long a crashed holder can keep a ticket unbookable: the key expires
// on its own even if nobody releases it.
package lock

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	// ErrNotAcquired means another holder owns the lock.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNoLock means no lock exists for the ticket.
	ErrNoLock = errors.New("no lock held")
)

// KV is the slice of the lock store the ticket lock needs.
type KV interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

type TicketLock struct {
	kv KV
}

func NewTicketLock(kv KV) *TicketLock {
	return &TicketLock{kv: kv}
}

func key(ticketID uuid.UUID) string {
	return "ticket_lock:" + ticketID.String()
}

// Acquire fences the ticket for ttl and returns the fencing token required
// to release it. ErrNotAcquired when another holder has it; other errors
// mean the store was unreachable.
func (l *TicketLock) Acquire(ctx context.Context, ticketID uuid.UUID, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := l.kv.SetIfAbsent(ctx, key(ticketID), token, ttl)
	if err != nil {
		return "", errors.Wrap(err, "acquire ticket lock")
	}
	if !ok {
		return "", ErrNotAcquired
	}
	return token, nil
}

// Release deletes the lock only if token still owns it, so a delayed
// caller cannot drop a lock someone else acquired in the meantime.
// Idempotent: releasing an absent or re-owned lock returns (false, nil).
func (l *TicketLock) Release(ctx context.Context, ticketID uuid.UUID, token string) (bool, error) {
	ok, err := l.kv.CompareAndDelete(ctx, key(ticketID), token)
	if err != nil {
		return false, errors.Wrap(err, "release ticket lock")
	}
	return ok, nil
}

// Owner returns the fencing token currently holding the ticket. ErrNoLock
// distinguishes "nobody holds it" from a store failure.
func (l *TicketLock) Owner(ctx context.Context, ticketID uuid.UUID) (string, error) {
	val, found, err := l.kv.Get(ctx, key(ticketID))
	if err != nil {
		return "", errors.Wrap(err, "query ticket lock owner")
	}
	if !found {
		return "", ErrNoLock
	}
	return val, nil
}
