package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository is the gorm-backed remote source. It owns the
// subscriptions table and the usage_events ledger; usage snapshots are
// always derived from the ledger, never stored.
type Repository struct {
	db      *gorm.DB
	catalog *TierCatalog
	logger  *zap.Logger
}

// NewRepository creates a new entitlement repository.
func NewRepository(db *gorm.DB, catalog *TierCatalog, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, catalog: catalog, logger: logger}
}

// AutoMigrate creates the entitlement tables.
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Subscription{}, &UsageEvent{})
}

// FetchSubscription returns the user's subscription, creating a Free
// one on first sight. Every known user has a subscription row.
func (r *Repository) FetchSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&sub).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("fetch subscription: %w", err)
		}
		return r.createFreeSubscription(ctx, userID)
	}

	// Free periods follow the calendar month; paid periods are set by
	// billing webhooks.
	if sub.Tier == TierFree && time.Now().After(sub.CurrentPeriodEnd) {
		now := time.Now()
		sub.CurrentPeriodStart = startOfMonth(now)
		sub.CurrentPeriodEnd = endOfMonth(now)
		if err := r.db.WithContext(ctx).Save(&sub).Error; err != nil {
			return nil, fmt.Errorf("roll free subscription period: %w", err)
		}
	}

	return &sub, nil
}

func (r *Repository) createFreeSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	now := time.Now()
	sub := Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		Tier:               TierFree,
		Status:             StatusActive,
		CurrentPeriodStart: startOfMonth(now),
		CurrentPeriodEnd:   endOfMonth(now),
	}
	if err := r.db.WithContext(ctx).Create(&sub).Error; err != nil {
		// A concurrent request may have created the row first; the
		// unique index on user_id makes the retry safe.
		var existing Subscription
		if lookupErr := r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			First(&existing).Error; lookupErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("create free subscription: %w", err)
	}

	r.logger.Info("created free subscription",
		zap.String("user_id", userID.String()),
	)
	return &sub, nil
}

// FetchUsage aggregates the ledger into a usage snapshot. Period
// resources (images, video, chat) sum events since the period start;
// capacity resources (storage, projects, team seats) sum the whole
// ledger, so deletions recorded as negative amounts free capacity.
func (r *Repository) FetchUsage(ctx context.Context, userID uuid.UUID) (*UsageStats, error) {
	sub, err := r.FetchSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	limits := r.catalog.GetLimits(sub.Tier)
	stats := NewUsageStats(sub.Tier, limits, sub.CurrentPeriodEnd)

	periodSums, err := r.sumEvents(ctx, userID, &sub.CurrentPeriodStart)
	if err != nil {
		return nil, fmt.Errorf("aggregate period usage: %w", err)
	}
	ledgerSums, err := r.sumEvents(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregate ledger usage: %w", err)
	}

	stats.ImagesUsed = int(periodSums[ResourceImage])
	stats.ImagesRemaining = stats.ImagesLimit - stats.ImagesUsed

	stats.VideoMinutesUsed = periodSums[ResourceVideo]
	stats.VideoRemainingMinutes = stats.VideoMinutesLimit - stats.VideoMinutesUsed

	stats.ChatTokensUsed = int64(periodSums[ResourceChatTokens])
	stats.ChatTokensRemaining = stats.ChatTokensLimit - stats.ChatTokensUsed

	stats.StorageUsedGB = clampFloat(ledgerSums[ResourceStorage])
	stats.StorageRemainingGB = stats.StorageLimitGB - stats.StorageUsedGB

	stats.ProjectsUsed = clampInt(int(ledgerSums[ResourceProject]))
	stats.ProjectsRemaining = stats.ProjectsLimit - stats.ProjectsUsed

	// The owner always holds the first seat.
	stats.TeamMembersUsed = 1 + clampInt(int(ledgerSums[ResourceTeamMember]))
	stats.TeamMembersRemaining = stats.TeamMembersLimit - stats.TeamMembersUsed

	return stats, nil
}

func (r *Repository) sumEvents(ctx context.Context, userID uuid.UUID, since *time.Time) (map[ResourceType]float64, error) {
	var rows []struct {
		ResourceType ResourceType
		Total        float64
	}

	query := r.db.WithContext(ctx).
		Model(&UsageEvent{}).
		Select("resource_type, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ?", userID)
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	if err := query.Group("resource_type").Scan(&rows).Error; err != nil {
		return nil, err
	}

	sums := make(map[ResourceType]float64, len(rows))
	for _, row := range rows {
		sums[row.ResourceType] = row.Total
	}
	return sums, nil
}

// ForwardUsageEvent appends an event to the ledger.
func (r *Repository) ForwardUsageEvent(ctx context.Context, event *UsageEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}

// GetSubscriptionByStripeID looks up a subscription by its Stripe
// subscription ID.
func (r *Repository) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return &sub, nil
}

// GetSubscriptionByCustomerID looks up a subscription by its Stripe
// customer ID.
func (r *Repository) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription by customer id: %w", err)
	}
	return &sub, nil
}

// UpdateSubscription persists tier and status changes from billing sync.
func (r *Repository) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	if err := r.db.WithContext(ctx).Save(sub).Error; err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}
