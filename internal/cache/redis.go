package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis caches synthesized audio in a Redis instance with a per-entry TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache and verifies connectivity with a ping.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &Redis{
		client: client,
		ttl:    ttl,
	}, nil
}

// Get returns the cached audio for key, reporting whether it was present.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry %q: %w", key, err)
	}

	return data, true, nil
}

// Put stores audio under key with the configured TTL.
func (r *Redis) Put(ctx context.Context, key string, data []byte) error {
	err := r.client.Set(ctx, key, data, r.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to write cache entry %q: %w", key, err)
	}

	return nil
}

// Close releases the underlying Redis connection pool.
func (r *Redis) Close() error {
	err := r.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
