package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger is the minimal interface for a dependency capable of Ping.
// The pgx pool and the queue producer both satisfy it.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface {
	Ping(ctx context.Context) RedisPingResult
}

// redisWrapper adapts *redis.Client to RedisClient. The concrete Ping
// returns *redis.StatusCmd, which satisfies RedisPingResult but not the
// interface-returning signature.
type redisWrapper struct{ rdb *redis.Client }

func (w redisWrapper) Ping(ctx context.Context) RedisPingResult { return w.rdb.Ping(ctx) }

// WrapRedis adapts a concrete go-redis client for BuildReadinessChecks.
func WrapRedis(rdb *redis.Client) RedisClient {
	if rdb == nil {
		return nil
	}
	return redisWrapper{rdb: rdb}
}

// BuildReadinessChecks returns three readiness checks: db, redis, and queue.
func BuildReadinessChecks(pool Pinger, rdb RedisClient, queue Pinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	queueCheck := func(ctx context.Context) error {
		if queue == nil {
			return fmt.Errorf("queue not configured")
		}
		return queue.Ping(ctx)
	}
	return dbCheck, redisCheck, queueCheck
}
