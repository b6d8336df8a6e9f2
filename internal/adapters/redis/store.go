package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds the expected
// value. GET+DEL as one script, so a lock that changed hands between the
// read and the delete is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store is the thin lock-store client: atomic conditional set with expiry,
// read, and compare-and-delete against a shared Redis.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Client() *redis.Client {
	return s.client
}

// SetIfAbsent creates key=value with the given TTL only if the key does
// not exist. Returns true iff this call created the key.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res := s.client.SetNX(ctx, key, value, ttl)
	return res.Val(), res.Err()
}

// Get returns the current value and whether the key exists. A missing key
// is not an error; errors mean the store itself was unreachable.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// CompareAndDelete removes the key iff it still holds value. Returns true
// iff a key was deleted.
func (s *Store) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the key unconditionally. Returns true iff a key existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	return n > 0, err
}
