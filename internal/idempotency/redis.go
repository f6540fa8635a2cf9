package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "omniport:idem:"

// RedisStore is a Store shared across gateway replicas. SET NX gives the
// same single-winner guarantee as the in-process mutex, fleet-wide.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Reserve(ctx context.Context, fingerprint, eventID string) (string, bool, error) {
	key := keyPrefix + fingerprint

	ok, err := s.client.SetNX(ctx, key, eventID, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("idempotency reserve failed: %w", err)
	}
	if ok {
		return eventID, true, nil
	}

	existing, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Reservation expired between SETNX and GET; retry the claim once.
		ok, err = s.client.SetNX(ctx, key, eventID, s.ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("idempotency reserve failed: %w", err)
		}
		if ok {
			return eventID, true, nil
		}
		existing, err = s.client.Get(ctx, key).Result()
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup failed: %w", err)
	}

	return existing, false, nil
}

func (s *RedisStore) Release(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
