package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "lims:seq:"
	seedLockTTL    = 10 * time.Second
	scopeRetention = 7 * 24 * time.Hour
)

// RedisCounter keeps one INCR key per scope. A key missing from Redis is
// seeded from the database under a distributed lock before the first
// increment, so restarting Redis never reissues a number.
type RedisCounter struct {
	rdb    redis.UniversalClient
	locker *redislock.Client
	seeder Seeder
}

func NewRedisCounter(rdb redis.UniversalClient, seeder Seeder) *RedisCounter {
	return &RedisCounter{rdb: rdb, locker: redislock.New(rdb), seeder: seeder}
}

func (c *RedisCounter) Next(ctx context.Context, s Scope) (int64, error) {
	key := redisKeyPrefix + s.Key
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("check counter %s: %w", key, err)
	}
	if n == 0 {
		if err := c.seed(ctx, key, s); err != nil {
			return 0, err
		}
	}

	v, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	if ttl := time.Until(s.End.Add(scopeRetention)); ttl > 0 {
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("expire counter %s: %w", key, err)
		}
	}
	return v, nil
}

func (c *RedisCounter) seed(ctx context.Context, key string, s Scope) error {
	lock, err := c.locker.Obtain(ctx, key+":lock", seedLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("seed counter %s: lock not obtained", key)
	}
	if err != nil {
		return fmt.Errorf("seed counter %s: %w", key, err)
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	var last int64
	if c.seeder != nil {
		if last, err = c.seeder.MaxSequence(ctx, s); err != nil {
			return fmt.Errorf("seed counter %s: %w", key, err)
		}
	}
	// Another holder of the lock may have seeded the key already.
	if err := c.rdb.SetNX(ctx, key, last, 0).Err(); err != nil {
		return fmt.Errorf("seed counter %s: %w", key, err)
	}
	return nil
}
