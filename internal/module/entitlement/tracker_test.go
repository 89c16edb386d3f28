package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTrackerForwardsEvents(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{
		sub:   activeSubscription(userID, TierFree),
		usage: freshUsage(TierFree),
	}
	cache := newTestCache(source, nil)
	tracker := NewTracker(source, cache, zap.NewNop(), nil, &TrackerConfig{BufferSize: 16})

	tracker.TrackImage(userID, 3, map[string]string{"model": "sd-xl"})
	tracker.Close()

	require.Equal(t, 1, source.eventCount())
	event := source.events[0]
	assert.Equal(t, userID, event.UserID)
	assert.Equal(t, ResourceImage, event.ResourceType)
	assert.Equal(t, 3.0, event.Amount)
	assert.Contains(t, event.Metadata, "sd-xl")
	assert.False(t, event.CreatedAt.IsZero())
}

func TestTrackerVideoStoresMinutes(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{}
	cache := newTestCache(source, nil)
	tracker := NewTracker(source, cache, zap.NewNop(), nil, &TrackerConfig{BufferSize: 16})

	tracker.TrackVideo(userID, 90, nil)
	tracker.Close()

	require.Equal(t, 1, source.eventCount())
	assert.Equal(t, ResourceVideo, source.events[0].ResourceType)
	assert.InDelta(t, 1.5, source.events[0].Amount, 1e-9)
}

func TestTrackerInvalidatesCacheAfterForward(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{
		sub:   activeSubscription(userID, TierFree),
		usage: freshUsage(TierFree),
	}
	cache := newTestCache(source, nil)
	tracker := NewTracker(source, cache, zap.NewNop(), nil, &TrackerConfig{BufferSize: 16})
	defer tracker.Close()

	ctx := context.Background()
	_, err := cache.GetUsage(ctx, userID, false)
	require.NoError(t, err)

	tracker.TrackChatTokens(userID, 5000, nil)

	// Once the worker has run, the cached snapshot is gone and the next
	// read goes back to the source.
	assert.Eventually(t, func() bool {
		if _, err := cache.GetUsage(ctx, userID, false); err != nil {
			return false
		}
		_, usageCalls := source.counts()
		return usageCalls >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestTrackerForwardFailureIsSwallowed(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{
		sub:        activeSubscription(userID, TierFree),
		usage:      freshUsage(TierFree),
		forwardErr: errors.New("ledger unavailable"),
	}
	cache := newTestCache(source, nil)
	tracker := NewTracker(source, cache, zap.NewNop(), nil, &TrackerConfig{BufferSize: 16})

	ctx := context.Background()
	_, err := cache.GetUsage(ctx, userID, false)
	require.NoError(t, err)

	tracker.TrackStorage(userID, 0.5, nil)
	tracker.Close()

	// The event was lost but the cache was still invalidated.
	assert.Zero(t, source.eventCount())
	_, err = cache.GetUsage(ctx, userID, false)
	require.NoError(t, err)
	_, usageCalls := source.counts()
	assert.Equal(t, 2, usageCalls)
}

// deadlineSource captures the forward context deadline so tests can
// check which timeout the worker applied.
type deadlineSource struct {
	fakeSource
	remaining chan time.Duration
}

func (d *deadlineSource) ForwardUsageEvent(ctx context.Context, event *UsageEvent) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		d.remaining <- 0
	} else {
		d.remaining <- time.Until(deadline)
	}
	return d.fakeSource.ForwardUsageEvent(ctx, event)
}

func TestTrackerForwardUsesConfiguredTimeout(t *testing.T) {
	userID := uuid.New()
	source := &deadlineSource{remaining: make(chan time.Duration, 1)}
	cache := newTestCache(source, nil)
	tracker := NewTracker(source, cache, zap.NewNop(), nil, &TrackerConfig{
		BufferSize:     16,
		ForwardTimeout: 250 * time.Millisecond,
	})

	tracker.TrackImage(userID, 1, nil)
	tracker.Close()

	select {
	case remaining := <-source.remaining:
		assert.Greater(t, remaining, time.Duration(0))
		assert.LessOrEqual(t, remaining, 250*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("forward was never called")
	}
}

// blockingSource holds ForwardUsageEvent until released, so tests can
// fill the tracker buffer deterministically.
type blockingSource struct {
	fakeSource
	gate chan struct{}
}

func (b *blockingSource) ForwardUsageEvent(ctx context.Context, event *UsageEvent) error {
	<-b.gate
	return b.fakeSource.ForwardUsageEvent(ctx, event)
}

func TestTrackerDropsWhenBufferFull(t *testing.T) {
	userID := uuid.New()
	source := &blockingSource{gate: make(chan struct{})}
	cache := newTestCache(source, nil)
	tracker := NewTracker(source, cache, zap.NewNop(), nil, &TrackerConfig{BufferSize: 1})

	// First event occupies the worker, second fills the buffer, third
	// has nowhere to go.
	tracker.TrackImage(userID, 1, nil)
	assert.Eventually(t, func() bool {
		return len(tracker.buffer) == 0
	}, time.Second, time.Millisecond)
	tracker.TrackImage(userID, 1, nil)
	tracker.TrackImage(userID, 1, nil)

	close(source.gate)
	tracker.Close()

	assert.Equal(t, 2, source.eventCount())
}

func TestTrackerQuotaConvergesAfterTracking(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{sub: activeSubscription(userID, TierFree)}
	source.usageFn = func(uuid.UUID) (*UsageStats, error) {
		usage := freshUsage(TierFree)
		var used int64
		for _, e := range source.events {
			if e.ResourceType == ResourceChatTokens {
				used += int64(e.Amount)
			}
		}
		usage.ChatTokensUsed = used
		usage.ChatTokensRemaining = usage.ChatTokensLimit - used
		return usage, nil
	}

	cache := newTestCache(source, nil)
	checker := NewChecker(cache, NewTierCatalog(), zap.NewNop(), nil)
	tracker := NewTracker(source, cache, zap.NewNop(), nil, &TrackerConfig{BufferSize: 16})
	defer tracker.Close()

	ctx := context.Background()
	const step = 10_000

	for i := 0; i < 10; i++ {
		result := checker.CanPerformAction(ctx, userID, ActionChat, step)
		require.True(t, result.Allowed, "request %d should fit the quota", i+1)

		tracker.TrackChatTokens(userID, step, nil)
		want := i + 1
		require.Eventually(t, func() bool {
			return source.eventCount() == want
		}, time.Second, time.Millisecond)
	}

	// All 100k tokens are spent; the next request is denied with the
	// exhausted snapshot attached.
	var result QuotaCheckResult
	assert.Eventually(t, func() bool {
		result = checker.CanPerformAction(ctx, userID, ActionChat, 1)
		return !result.Allowed
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, result.Reason, "Chat token quota exceeded")
	require.NotNil(t, result.CurrentUsage)
	assert.Zero(t, result.CurrentUsage.Remaining)
}
