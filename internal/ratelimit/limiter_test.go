package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseAllower(t *testing.T, l Allower, after func()) {
	t.Helper()
	ctx := context.Background()
	window := 2 * time.Second
	limit := 2

	for i := 0; i < limit; i++ {
		allowed, remaining, _, err := l.Allow(ctx, "key", window, limit)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
		if remaining != limit-(i+1) {
			t.Fatalf("unexpected remaining: %d", remaining)
		}
	}

	allowed, remaining, _, err := l.Allow(ctx, "key", window, limit)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("expected third request to be rejected")
	}
	if remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", remaining)
	}

	allowed, _, _, err = l.Allow(ctx, "other", window, limit)
	if err != nil || !allowed {
		t.Fatalf("expected independent key to be allowed, got %v %v", allowed, err)
	}

	if after == nil {
		return
	}
	after()
	allowed, _, _, err = l.Allow(ctx, "key", window, limit)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !allowed {
		t.Fatal("expected request after window to be allowed")
	}
}

func TestSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	exerciseAllower(t, SlidingWindow{Client: client, Prefix: "test:"}, func() { mr.FastForward(2 * time.Second) })
}

func TestSlidingWindowWithoutClientAllows(t *testing.T) {
	allowed, remaining, _, err := SlidingWindow{}.Allow(context.Background(), "k", time.Second, 3)
	if err != nil || !allowed || remaining != 3 {
		t.Fatalf("expected pass-through, got %v %d %v", allowed, remaining, err)
	}
}

func TestMemory(t *testing.T) {
	exerciseAllower(t, NewMemory("test"), nil)
}

func TestRedisFixed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	l, err := NewRedisFixed(client, "test")
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	exerciseAllower(t, l, func() { mr.FastForward(2 * time.Second) })
}
