package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps snapshots in Redis with native key expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Get reads key; a missing key is a miss, not an error.
func (s *RedisStore) Get(ctx context.Context, key string, _ time.Time) (Snapshot, bool, error) {
	if s == nil || s.client == nil || key == "" {
		return Snapshot{}, false, nil
	}
	raw, errGet := s.client.Get(ctx, s.buildKey(key)).Bytes()
	if errGet != nil {
		if errors.Is(errGet, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, errGet
	}
	var snap Snapshot
	if errUnmarshal := json.Unmarshal(raw, &snap); errUnmarshal != nil {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Set writes key with a TTL.
func (s *RedisStore) Set(ctx context.Context, key string, snap Snapshot, ttl time.Duration, _ time.Time) error {
	if s == nil || s.client == nil || key == "" || ttl <= 0 {
		return nil
	}
	raw, errMarshal := json.Marshal(snap)
	if errMarshal != nil {
		return errMarshal
	}
	return s.client.Set(ctx, s.buildKey(key), raw, ttl).Err()
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil || key == "" {
		return nil
	}
	return s.client.Del(ctx, s.buildKey(key)).Err()
}

func (s *RedisStore) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}
