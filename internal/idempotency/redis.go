package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idempotency:v1:"

// RedisStore keeps idempotency records in Redis with a TTL. SetNX guarantees a
// single winner under concurrent submissions of the same key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Redis-backed idempotency store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	txID, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return txID, true, nil
}

// Remember implements Store.
func (s *RedisStore) Remember(ctx context.Context, key, txID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, txID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reservation: %w", err)
	}
	return ok, nil
}
