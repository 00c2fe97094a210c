package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON stores JSON documents in Redis under a key prefix. A nil client turns
// every call into a miss so callers can run without Redis.
type JSON struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewJSON returns a JSON cache. Keys are stored as "<prefix>:<key>".
func NewJSON(client redis.UniversalClient, prefix string, ttl time.Duration) *JSON {
	return &JSON{client: client, prefix: strings.Trim(prefix, ":"), ttl: ttl}
}

// Enabled reports whether a Redis client is attached.
func (c *JSON) Enabled() bool { return c != nil && c.client != nil }

// Key returns the namespaced key.
func (c *JSON) Key(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Get unmarshals the cached document into dst and reports whether it existed.
func (c *JSON) Get(ctx context.Context, key string, dst any) (bool, error) {
	if !c.Enabled() || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, c.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores v with the configured TTL; a non-positive TTL keeps it forever.
func (c *JSON) Set(ctx context.Context, key string, v any) error {
	if !c.Enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, c.Key(key), data, ttl).Err()
}

// Delete evicts key.
func (c *JSON) Delete(ctx context.Context, key string) error {
	if !c.Enabled() || key == "" {
		return nil
	}
	return c.client.Del(ctx, c.Key(key)).Err()
}
