package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// CacheKeyPrefix is the Redis key prefix for cached data
	CacheKeyPrefix  = "cache:"
	DefaultCacheTTL = 10 * time.Minute
	MinCacheTTL     = time.Minute
	MaxCacheTTL     = time.Hour
)

// CacheService is a JSON read-through cache in Redis. Misses and Redis
// failures both read as a miss so callers fall through to the source.
type CacheService struct {
	client *redis.Client
}

func NewCacheService(client *redis.Client) *CacheService {
	return &CacheService{client: client}
}

// Get decodes the cached value into dest and reports whether it was found.
func (c *CacheService) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	val, err := c.client.Get(ctx, CacheKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, nil // Redis trouble degrades to a miss
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *CacheService) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, DefaultCacheTTL)
}

// SetWithTTL stores value, clamping ttl to [MinCacheTTL, MaxCacheTTL].
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	ttl = min(max(ttl, MinCacheTTL), MaxCacheTTL)

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, CacheKeyPrefix+key, data, ttl).Err()
}

func (c *CacheService) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, CacheKeyPrefix+key).Err()
}

// CacheKey generates a cache key for a specific resource
func CacheKey(resource string, identifier string) string {
	return fmt.Sprintf("%s:%s", resource, identifier)
}
