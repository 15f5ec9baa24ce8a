package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "bookporter:idem:"

// redisClient is the subset of redis.Cmdable the store uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps entries as JSON values whose Redis TTL matches the entry expiry.
type RedisStore struct {
	client redisClient
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient dials addr and pings it once.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("idempotency: redis ping %s: %w", addr, err)
	}
	return client, nil
}

func redisKey(key string) string {
	return redisKeyPrefix + documentID(key)
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	entry := newEntry(key, fingerprint, now, ttl)
	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, Entry{}, err
	}
	acquired, err := s.client.SetNX(ctx, redisKey(key), payload, entry.ExpiresAt.Sub(now)).Result()
	if err != nil {
		return 0, Entry{}, fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if acquired {
		return StateAcquired, entry, nil
	}

	existing, err := s.load(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; report in flight and let the client retry.
		return StateInFlight, entry, nil
	}
	if err != nil {
		return 0, Entry{}, err
	}
	return classify(existing, fingerprint)
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	entry, err := s.load(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		entry = newEntry(key, fingerprint, now, ttl)
	case err != nil:
		return err
	case entry.Fingerprint != fingerprint:
		return ErrKeyReuse
	}
	entry = complete(entry, resp, now, ttl)
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey(key), payload, entry.ExpiresAt.Sub(now)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Abandon(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKey(key)).Err()
}

// Purge is a no-op: Redis expires entries itself.
func (s *RedisStore) Purge(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, key string) (Entry, error) {
	raw, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("idempotency: decode redis entry: %w", err)
	}
	return entry, nil
}
