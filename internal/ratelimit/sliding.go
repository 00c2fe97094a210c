package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Allower decides whether one more event for key fits in limit per window.
type Allower interface {
	Allow(ctx context.Context, key string, window time.Duration, limit int) (allowed bool, remaining int, reset time.Time, err error)
}

// SlidingWindow is a Redis sorted-set limiter shared by every replica.
type SlidingWindow struct {
	Client redis.UniversalClient
	Prefix string
}

// Allow records an event and counts the events inside the trailing window.
func (l SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	now := time.Now()
	until := now.Add(window)
	if l.Client == nil || limit <= 0 || window <= 0 {
		return true, limit, until, nil
	}

	redisKey := l.Prefix + key
	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%d", now.Add(-window).UnixNano()))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, until, fmt.Errorf("ratelimit: sliding window: %w", err)
	}

	current := int(count.Val())
	return current <= limit, max(0, limit-current), until, nil
}
