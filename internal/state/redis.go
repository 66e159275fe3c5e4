package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces all session keys so Clear can scan and remove them
// without touching anything else living in the same Redis database.
const keyPrefix = "meetscribe:session:"

// Compile-time assertion that RedisStore satisfies the Store interface.
var _ Store = (*RedisStore)(nil)

// RedisStore implements [Store] on a Redis database. Keys left behind by
// a crashed run are not touched here: the coordinator's startup recovery
// pass owns them, turning a leftover recording flag into an
// interrupted-recording history entry before clearing the session keys.
// Clearing on connect would also break the cross-instance recording
// guard, which relies on the flag surviving in shared Redis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis at addr and verifies the connection with
// a ping. db selects the Redis database number.
func NewRedisStore(ctx context.Context, addr string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("state: ping redis %q: %w", addr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// Get implements [Store.Get].
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("state: get %q: %w", key, err)
	}
	return v, true, nil
}

// Set implements [Store.Set].
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("state: set %q: %w", key, err)
	}
	return nil
}

// SetIfAbsent implements [Store.SetIfAbsent] using SETNX.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("state: setnx %q: %w", key, err)
	}
	return ok, nil
}

// Delete implements [Store.Delete].
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	if err := s.rdb.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("state: delete: %w", err)
	}
	return nil
}

// Clear implements [Store.Clear]. It scans for all namespaced keys and
// removes them in batches.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 128 {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("state: clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("state: clear scan: %w", err)
	}
	if len(batch) > 0 {
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("state: clear: %w", err)
		}
	}
	return nil
}

// Ping reports whether the Redis backend is reachable. Used by the
// readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
