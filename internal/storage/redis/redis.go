// Package redis implements the shared counter backend on a Redis instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds every Redis round trip. A hung Redis must degrade
// into a fallback, not stall the request that triggered the call.
const DefaultTimeout = 250 * time.Millisecond

type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedisStore(client *redis.Client, opts ...func(*RedisStore)) *RedisStore {
	s := &RedisStore{
		client:  client,
		timeout: DefaultTimeout,
	}
	for _, f := range opts {
		f(s)
	}
	return s
}

func WithTimeout(d time.Duration) func(*RedisStore) {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// opContext detaches the operation from the caller's cancellation while
// keeping it bounded by the store's own timeout. An increment already
// dispatched for a cancelled request still completes, so the shared count
// never drifts low; the cancelled caller simply discards the result.
func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now()

	// INCR and PEXPIRE travel in one pipelined round trip. The TTL is
	// reapplied on every call, so window keys vanish shortly after the
	// window closes and violation keys keep their horizon rolling.
	pipe := s.client.Pipeline()
	incrCmd := pipe.Incr(opCtx, key)
	pipe.PExpire(opCtx, key, ttl)

	if _, err := pipe.Exec(opCtx); err != nil {
		return 0, time.Time{}, fmt.Errorf("redis increment %q: %w", key, err)
	}

	return incrCmd.Val(), now.Add(ttl), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	count, err := s.client.Get(opCtx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %q: %w", key, err)
	}

	return count, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Del(opCtx, key).Err(); err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}
