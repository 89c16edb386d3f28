package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fakeSource is an in-memory RemoteSource for tests.
type fakeSource struct {
	mu sync.Mutex

	sub   *Subscription
	usage *UsageStats

	subErr     error
	usageErr   error
	forwardErr error

	// usageFn, when set, overrides the static usage value.
	usageFn func(userID uuid.UUID) (*UsageStats, error)

	subCalls   int
	usageCalls int
	events     []*UsageEvent
}

func (f *fakeSource) FetchSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.subErr != nil {
		return nil, f.subErr
	}
	return f.sub, nil
}

func (f *fakeSource) FetchUsage(ctx context.Context, userID uuid.UUID) (*UsageStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageCalls++
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	if f.usageFn != nil {
		return f.usageFn(userID)
	}
	return f.usage, nil
}

func (f *fakeSource) ForwardUsageEvent(ctx context.Context, event *UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forwardErr != nil {
		return f.forwardErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSource) counts() (subCalls, usageCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCalls, f.usageCalls
}

func (f *fakeSource) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// fakeShared is an in-memory SharedCache for tests.
type fakeShared struct {
	mu sync.Mutex

	data map[string][]byte

	getErr error
	setErr error
}

func newFakeShared() *fakeShared {
	return &fakeShared{data: make(map[string][]byte)}
}

func (f *fakeShared) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	val, ok := f.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return val, nil
}

func (f *fakeShared) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	return nil
}

func (f *fakeShared) Invalidate(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeShared) InvalidatePattern(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.data {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(f.data, key)
		}
	}
	return nil
}

func activeSubscription(userID uuid.UUID, tier SubscriptionTier) *Subscription {
	now := time.Now()
	return &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		Tier:               tier,
		Status:             StatusActive,
		CurrentPeriodStart: startOfMonth(now),
		CurrentPeriodEnd:   endOfMonth(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func freshUsage(tier SubscriptionTier) *UsageStats {
	catalog := NewTierCatalog()
	return NewUsageStats(tier, catalog.GetLimits(tier), endOfMonth(time.Now()))
}

func newTestCache(source RemoteSource, shared SharedCache) *Cache {
	return NewCache(source, shared, nil, zap.NewNop(), nil)
}

func newTestChecker(source RemoteSource) *Checker {
	return NewChecker(newTestCache(source, nil), NewTierCatalog(), zap.NewNop(), nil)
}
