package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Fixed is a fixed-window limiter on top of a ulule store. One limiter is kept per rate.
type Fixed struct {
	store limiter.Store
	name  string

	mu       sync.Mutex
	limiters map[limiter.Rate]*limiter.Limiter
}

// NewMemory returns a per-process limiter for single-replica deployments.
func NewMemory(prefix string) *Fixed {
	return newFixed("memory", memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute}))
}

// NewRedisFixed shares fixed windows across replicas through Redis.
func NewRedisFixed(client redis.UniversalClient, prefix string) (*Fixed, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix, MaxRetry: 3})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return newFixed("redis", store), nil
}

func newFixed(name string, store limiter.Store) *Fixed {
	return &Fixed{store: store, name: name, limiters: make(map[limiter.Rate]*limiter.Limiter)}
}

// Allow implements Allower.
func (f *Fixed) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	if limit <= 0 || window <= 0 {
		return true, limit, time.Now().Add(window), nil
	}
	lctx, err := f.limiter(window, limit).Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), fmt.Errorf("ratelimit: %s: %w", f.name, err)
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}

func (f *Fixed) limiter(window time.Duration, limit int) *limiter.Limiter {
	rate := limiter.Rate{Period: window, Limit: int64(limit)}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[rate]
	if !ok {
		l = limiter.New(f.store, rate)
		f.limiters[rate] = l
	}
	return l
}
