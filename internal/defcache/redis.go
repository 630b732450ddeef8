package defcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"forge/api/internal/versioning"
)

// RedisCache shares cached definitions between API replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{
		client: client,
		prefix: "definition:",
		ttl:    ttl,
	}
}

func (c *RedisCache) redisKey(appID, versionID string) string {
	return c.prefix + key(appID, versionID)
}

func (c *RedisCache) Get(ctx context.Context, appID, versionID string) (versioning.Definition, bool, error) {
	raw, err := c.client.Get(ctx, c.redisKey(appID, versionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return versioning.Definition{}, false, nil
	}
	if err != nil {
		return versioning.Definition{}, false, fmt.Errorf("get cached definition: %w", err)
	}

	var definition versioning.Definition
	if err := json.Unmarshal(raw, &definition); err != nil {
		return versioning.Definition{}, false, fmt.Errorf("unmarshal cached definition: %w", err)
	}
	return definition, true, nil
}

func (c *RedisCache) Set(ctx context.Context, definition versioning.Definition) error {
	raw, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(definition.AppID, definition.VersionID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache definition: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, appID, versionID string) error {
	if err := c.client.Del(ctx, c.redisKey(appID, versionID)).Err(); err != nil {
		return fmt.Errorf("evict definition: %w", err)
	}
	return nil
}

func (c *RedisCache) Backend() string {
	return "redis"
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
