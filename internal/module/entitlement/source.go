package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// RemoteSource is the authoritative entitlement backend. Reads are
// idempotent; ForwardUsageEvent is at-least-once from the engine's
// perspective (the ledger dedupes).
type RemoteSource interface {
	FetchSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	FetchUsage(ctx context.Context, userID uuid.UUID) (*UsageStats, error)
	ForwardUsageEvent(ctx context.Context, event *UsageEvent) error
}

// BreakerConfig holds circuit breaker configuration for the remote source.
type BreakerConfig struct {
	MaxFailures         uint32
	Timeout             time.Duration
	MaxHalfOpenRequests uint32
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		MaxFailures:         5,
		Timeout:             60 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// breakerSource wraps a RemoteSource with a circuit breaker so a
// flapping backend fails fast. An open breaker surfaces as a fetch
// error, which the checker already treats as a denial.
type breakerSource struct {
	inner   RemoteSource
	breaker *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

// NewBreakerSource wraps a remote source with a circuit breaker.
func NewBreakerSource(inner RemoteSource, cfg *BreakerConfig, logger *zap.Logger) RemoteSource {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        "entitlement-source",
		MaxRequests: cfg.MaxHalfOpenRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("entitlement source breaker state change",
			zap.String("name", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &breakerSource{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

func (s *breakerSource) FetchSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.inner.FetchSubscription(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Subscription), nil
}

func (s *breakerSource) FetchUsage(ctx context.Context, userID uuid.UUID) (*UsageStats, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.inner.FetchUsage(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*UsageStats), nil
}

func (s *breakerSource) ForwardUsageEvent(ctx context.Context, event *UsageEvent) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.inner.ForwardUsageEvent(ctx, event)
	})
	return err
}

// DevFallbackSource substitutes a synthetic Free-tier subscription when
// the real backend is unreachable. It exists so local development works
// without the entitlement backend; the default production configuration
// never constructs it, which keeps the admission path fail-closed.
type DevFallbackSource struct {
	inner   RemoteSource
	catalog *TierCatalog
	logger  *zap.Logger
}

// NewDevFallbackSource wraps a remote source with the development fallback.
func NewDevFallbackSource(inner RemoteSource, catalog *TierCatalog, logger *zap.Logger) *DevFallbackSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DevFallbackSource{
		inner:   inner,
		catalog: catalog,
		logger:  logger,
	}
}

// FetchSubscription returns the backend subscription, or a synthetic
// Free-tier one if the backend fails.
func (s *DevFallbackSource) FetchSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.inner.FetchSubscription(ctx, userID)
	if err != nil {
		s.logger.Warn("remote source failed, using synthetic free subscription",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return syntheticFreeSubscription(userID), nil
	}
	return sub, nil
}

// FetchUsage returns the backend usage snapshot, or a zero-consumption
// Free-tier snapshot if the backend fails.
func (s *DevFallbackSource) FetchUsage(ctx context.Context, userID uuid.UUID) (*UsageStats, error) {
	usage, err := s.inner.FetchUsage(ctx, userID)
	if err != nil {
		s.logger.Warn("remote source failed, using synthetic free usage",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		limits := s.catalog.GetLimits(TierFree)
		return NewUsageStats(TierFree, limits, endOfMonth(time.Now())), nil
	}
	return usage, nil
}

// ForwardUsageEvent passes through; tracking failures are already
// absorbed by the tracker.
func (s *DevFallbackSource) ForwardUsageEvent(ctx context.Context, event *UsageEvent) error {
	return s.inner.ForwardUsageEvent(ctx, event)
}

func syntheticFreeSubscription(userID uuid.UUID) *Subscription {
	now := time.Now()
	return &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		Tier:               TierFree,
		Status:             StatusActive,
		CurrentPeriodStart: startOfMonth(now),
		CurrentPeriodEnd:   endOfMonth(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func endOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)
}
