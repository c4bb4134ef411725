package ratelimit

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares windows between replicas through Redis INCR and PEXPIRE.
type RedisLimiter struct {
	client redis.Cmdable
	cfg    Config
	prefix string
	clock  clock.Clock
}

func NewRedisLimiter(client redis.Cmdable, cfg Config, prefix string, clk clock.Clock) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &RedisLimiter{client: client, cfg: cfg.normalized(), prefix: prefix, clock: clk}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{}, errors.Annotate(err, "increment window")
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, l.cfg.Window).Err(); err != nil {
			return Result{}, errors.Annotate(err, "expire window")
		}
	}

	ttl, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return Result{}, errors.Annotate(err, "read window ttl")
	}
	if ttl < 0 {
		// A key without expiry would never reset.
		if err := l.client.PExpire(ctx, redisKey, l.cfg.Window).Err(); err != nil {
			return Result{}, errors.Annotate(err, "expire window")
		}
		ttl = l.cfg.Window
	}

	return Result{
		Allowed:   count <= int64(l.cfg.Requests),
		Limit:     l.cfg.Requests,
		Remaining: remaining(l.cfg.Requests, count),
		ResetAt:   l.clock.Now().Add(ttl.Round(time.Millisecond)),
	}, nil
}
