package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/framecraft/server/internal/module/entitlement"
)

const invalidateScanCount = 100

// entitlementCache implements entitlement.SharedCache on Redis, giving
// every server replica a shared view of cached entitlement state.
type entitlementCache struct {
	client redis.UniversalClient
}

// NewEntitlementCache creates a new Redis-backed shared cache.
func NewEntitlementCache(client redis.UniversalClient) entitlement.SharedCache {
	return &entitlementCache{client: client}
}

func (c *entitlementCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, entitlement.ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, nil
}

func (c *entitlementCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *entitlementCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}

// InvalidatePattern deletes every key under prefix. It walks the
// keyspace with SCAN rather than KEYS so a large deploy-time flush
// cannot stall Redis.
func (c *entitlementCache) InvalidatePattern(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", invalidateScanCount).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache invalidate pattern %s: %w", prefix, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
