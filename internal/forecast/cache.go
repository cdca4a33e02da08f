package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulseboard/adinsights/internal/domain"
)

// Cache stores shared elasticity estimates with a TTL. Staleness within the
// TTL window is acceptable; entries are read-mostly.
type Cache interface {
	Get(ctx context.Context, key string) (*domain.ElasticityEstimate, bool, error)
	Set(ctx context.Context, key string, est domain.ElasticityEstimate, ttl time.Duration) error
}

// RedisCache is the redis-backed Cache used for global elasticity
// estimates, shared across processes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a redis client as an elasticity cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*domain.ElasticityEstimate, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	var est domain.ElasticityEstimate
	if err := json.Unmarshal(data, &est); err != nil {
		return nil, false, fmt.Errorf("decode cached estimate %s: %w", key, err)
	}
	return &est, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, est domain.ElasticityEstimate, ttl time.Duration) error {
	data, err := json.Marshal(est)
	if err != nil {
		return fmt.Errorf("encode estimate %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}
