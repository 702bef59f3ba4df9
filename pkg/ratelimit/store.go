package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyHoldDeadline stores the workspace-wide hold-off deadline as a Unix
// millisecond timestamp, shared by all exporter processes.
const RedisKeyHoldDeadline = "coda:rate_limit:hold_deadline"

// Store shares the hold-off deadline across processes.
type Store interface {
	// SaveDeadline publishes a new hold-off deadline. An older deadline
	// already stored must not be extended past the given one.
	SaveDeadline(ctx context.Context, deadline time.Time) error

	// LoadDeadline returns the stored deadline, or the zero time when none
	// is set.
	LoadDeadline(ctx context.Context) (time.Time, error)
}

// RedisStore implements Store on a Redis backend.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed deadline store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// SaveDeadline stores the deadline with a TTL so stale holds expire on their
// own once the window has passed.
func (s *RedisStore) SaveDeadline(ctx context.Context, deadline time.Time) error {
	ttl := time.Until(deadline)
	if ttl <= 0 {
		return nil
	}

	if err := s.redis.Set(ctx, RedisKeyHoldDeadline, deadline.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set hold deadline: %w", err)
	}
	return nil
}

// LoadDeadline returns the shared deadline, or the zero time on a miss.
func (s *RedisStore) LoadDeadline(ctx context.Context) (time.Time, error) {
	millis, err := s.redis.Get(ctx, RedisKeyHoldDeadline).Int64()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("redis get hold deadline: %w", err)
	}

	return time.UnixMilli(millis), nil
}
