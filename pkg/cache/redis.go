package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyrun/polyrun/pkg/errs"
)

// RedisCache implements Cache on a Redis server.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.KindCache, err, "invalid redis URL")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Wrap(errs.KindCache, err, "failed to ping redis")
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client (useful for testing).
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.KindCache, err, "failed to get %s", key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, errs.Wrap(errs.KindCache, err, "failed to decode cached value for %s", key)
	}
	return true, nil
}

func (c *RedisCache) SetEx(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.KindCache, err, "failed to encode value for %s", key)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errs.Wrap(errs.KindCache, err, "failed to set %s", key)
	}
	return nil
}

func (c *RedisCache) SetIfAbsent(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, errs.Wrap(errs.KindCache, err, "failed to encode value for %s", key)
	}
	ok, err := c.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, errs.Wrap(errs.KindCache, err, "failed to setnx %s", key)
	}
	return ok, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return errs.Wrap(errs.KindCache, err, "failed to delete %s", key)
	}
	return nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, errs.Wrap(errs.KindCache, err, "failed to check %s", key)
	}
	return n > 0, nil
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, errs.Wrap(errs.KindCache, err, "failed to expire %s", key)
	}
	return ok, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
