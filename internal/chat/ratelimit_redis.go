package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the same sliding windows over a Redis sorted set per
// session, for horizontally scaled deployments where process-local state would
// let each instance grant its own quota.
type RedisLimiter struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, logger: slog.Default(), now: time.Now}
}

func sessionKey(sessionID string) string {
	return "docqa:ratelimit:" + sessionID
}

// Check mirrors MemoryLimiter.Check; on Redis failure it fails open, since
// refusing chat service over a limiter outage is the worse trade.
func (l *RedisLimiter) Check(sessionID string) Decision {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := l.now()
	key := sessionKey(sessionID)
	cutoff := now.Add(-RateWindow)

	if err := l.client.ZRemRangeByScore(ctx, key,
		"0", strconv.FormatInt(cutoff.UnixMilli(), 10)).Err(); err != nil {
		l.logger.Warn("rate limiter prune failed, allowing request", "error", err)
		return Decision{Allowed: true}
	}

	stamps, err := l.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		l.logger.Warn("rate limiter read failed, allowing request", "error", err)
		return Decision{Allowed: true}
	}

	times := make([]time.Time, 0, len(stamps))
	for _, s := range stamps {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		times = append(times, time.UnixMilli(ms))
	}

	decision := Decision{Allowed: true}
	if d, rejected := windowExceeded(times, now, BurstWindow, BurstMax, ReasonBurstLimit); rejected {
		decision = d
	} else if d, rejected := windowExceeded(times, now, RateWindow, RateMax, ReasonRateLimit); rejected {
		decision = d
	}

	member := strconv.FormatInt(now.UnixMilli(), 10)
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, SessionIdle)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limiter record failed", "error", err)
	}
	return decision
}

// Cleanup is a no-op: per-session keys expire on their own.
func (l *RedisLimiter) Cleanup() {}

// NewRedisLimiterFromURL connects and verifies the Redis backend.
func NewRedisLimiterFromURL(ctx context.Context, url string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLimiter(client), nil
}

var _ Limiter = (*RedisLimiter)(nil)
var _ Limiter = (*MemoryLimiter)(nil)
