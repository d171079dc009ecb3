package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Los scripts hacen el EXISTS y el INCRBY/DECRBY en una sola operación atómica.
var (
	decrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return redis.call("DECRBY", KEYS[1], ARGV[1])
end
return false`)
	incrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return redis.call("INCRBY", KEYS[1], ARGV[1])
end
return false`)
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil // cache miss
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val interface{}, ttlSecs int) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	ttl := c.ttl
	if ttlSecs > 0 {
		ttl = time.Duration(ttlSecs) * time.Second
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetCount(ctx context.Context, key string, value int64) error {
	return c.client.Set(ctx, key, value, 0).Err()
}

func (c *RedisCache) DecrIfExists(ctx context.Context, key string, by int64) (int64, bool, error) {
	remaining, err := decrIfExists.Run(ctx, c.client, []string{key}, by).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return remaining, true, nil
}

func (c *RedisCache) IncrIfExists(ctx context.Context, key string, by int64) error {
	err := incrIfExists.Run(ctx, c.client, []string{key}, by).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Ping se usa en el health check.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
