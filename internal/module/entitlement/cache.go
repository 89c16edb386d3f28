package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framecraft/server/internal/utils/metrics"
)

// SharedCache is the external shared cache collaborator. It is a generic
// TTL key/value store; keys are opaque strings. Implementations must be
// safe for concurrent use.
type SharedCache interface {
	// Get returns the cached value for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidatePattern(ctx context.Context, prefix string) error
}

const (
	cacheKeyPrefix        = "entitlement:"
	subscriptionKeyPrefix = cacheKeyPrefix + "subscription:"
	usageKeyPrefix        = cacheKeyPrefix + "usage:"
)

func subscriptionKey(userID uuid.UUID) string {
	return subscriptionKeyPrefix + userID.String()
}

func usageKey(userID uuid.UUID) string {
	return usageKeyPrefix + userID.String()
}

// CacheConfig holds entitlement cache configuration.
type CacheConfig struct {
	SubscriptionTTL time.Duration
	UsageTTL        time.Duration
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		SubscriptionTTL: 5 * time.Minute,
		UsageTTL:        5 * time.Minute,
	}
}

type localEntry struct {
	value     any
	expiresAt time.Time
}

// Cache is the two-level entitlement cache: a process-local map in front
// of an optional shared cache, falling through to the remote source.
// Remote failures propagate; the cache never fabricates stale data.
type Cache struct {
	source  RemoteSource
	shared  SharedCache // may be nil
	config  *CacheConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	local map[string]localEntry

	// now is the clock used for TTL decisions, replaceable in tests.
	now func() time.Time
}

// NewCache creates a new entitlement cache. shared may be nil, in which
// case only the local level is used. m may be nil.
func NewCache(source RemoteSource, shared SharedCache, cfg *CacheConfig, logger *zap.Logger, m *metrics.Metrics) *Cache {
	if cfg == nil {
		cfg = DefaultCacheConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		source:  source,
		shared:  shared,
		config:  cfg,
		logger:  logger,
		metrics: m,
		local:   make(map[string]localEntry),
		now:     time.Now,
	}
}

// GetSubscription returns the user's subscription, consulting the local
// map, then the shared cache, then the remote source. forceRefresh skips
// straight to the remote source; its failures propagate even when a
// non-expired cached value exists.
func (c *Cache) GetSubscription(ctx context.Context, userID uuid.UUID, forceRefresh bool) (*Subscription, error) {
	key := subscriptionKey(userID)

	if !forceRefresh {
		if val, ok := c.lookupLocal(key); ok {
			c.metrics.RecordCacheHit("local", "subscription")
			return val.(*Subscription), nil
		}
		c.metrics.RecordCacheMiss("local", "subscription")

		if sub := cacheGet[Subscription](ctx, c, key, "subscription"); sub != nil {
			c.storeLocal(key, sub, c.config.SubscriptionTTL)
			return sub, nil
		}
	}

	start := time.Now()
	sub, err := c.source.FetchSubscription(ctx, userID)
	c.metrics.RecordRemoteFetch("subscription", time.Since(start))
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, sub, c.config.SubscriptionTTL)
	return sub, nil
}

// GetUsage returns the user's usage snapshot with the same lookup order
// as GetSubscription. A snapshot that fails the used+remaining==limit
// invariant after a fetch is normalized, not rejected.
func (c *Cache) GetUsage(ctx context.Context, userID uuid.UUID, forceRefresh bool) (*UsageStats, error) {
	key := usageKey(userID)

	if !forceRefresh {
		if val, ok := c.lookupLocal(key); ok {
			c.metrics.RecordCacheHit("local", "usage")
			return val.(*UsageStats), nil
		}
		c.metrics.RecordCacheMiss("local", "usage")

		if usage := cacheGet[UsageStats](ctx, c, key, "usage"); usage != nil {
			c.storeLocal(key, usage, c.config.UsageTTL)
			return usage, nil
		}
	}

	start := time.Now()
	usage, err := c.source.FetchUsage(ctx, userID)
	c.metrics.RecordRemoteFetch("usage", time.Since(start))
	if err != nil {
		return nil, err
	}

	if !usage.Consistent() {
		c.logger.Warn("inconsistent usage snapshot from source, normalizing",
			zap.String("user_id", userID.String()),
		)
		usage.Normalize()
	}

	c.store(ctx, key, usage, c.config.UsageTTL)
	return usage, nil
}

// Invalidate drops the subscription and usage entries for a user from
// both cache levels.
func (c *Cache) Invalidate(ctx context.Context, userID uuid.UUID) {
	subKey := subscriptionKey(userID)
	usgKey := usageKey(userID)

	c.mu.Lock()
	delete(c.local, subKey)
	delete(c.local, usgKey)
	c.mu.Unlock()

	if c.shared == nil {
		return
	}
	for _, key := range []string{subKey, usgKey} {
		if err := c.shared.Invalidate(ctx, key); err != nil {
			c.logger.Warn("shared cache invalidate failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// InvalidateAll clears every entitlement entry from both cache levels.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.local = make(map[string]localEntry)
	c.mu.Unlock()

	if c.shared == nil {
		return
	}
	if err := c.shared.InvalidatePattern(ctx, cacheKeyPrefix); err != nil {
		c.logger.Warn("shared cache pattern invalidate failed", zap.Error(err))
	}
}

// lookupLocal returns a non-expired local entry. Expired entries are
// treated identically to a miss.
func (c *Cache) lookupLocal(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.local[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (c *Cache) storeLocal(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.local[key] = localEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// store populates both cache levels after a remote fetch. The lock is
// only held for the map insert, never across the shared cache call.
func (c *Cache) store(ctx context.Context, key string, value any, ttl time.Duration) {
	c.storeLocal(key, value, ttl)

	if c.shared == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("marshal cache entry failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.shared.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("shared cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// cacheGet reads and decodes a shared-cache entry. Shared cache errors
// degrade to a miss so a broken cache never fails the whole check.
func cacheGet[T any](ctx context.Context, c *Cache, key, kind string) *T {
	if c.shared == nil {
		return nil
	}

	data, err := c.shared.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("shared cache get failed, treating as miss",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		c.metrics.RecordCacheMiss("shared", kind)
		return nil
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		c.logger.Warn("corrupt shared cache entry, treating as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		c.metrics.RecordCacheMiss("shared", kind)
		return nil
	}

	c.metrics.RecordCacheHit("shared", kind)
	return &value
}
