package entitlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framecraft/server/internal/utils/metrics"
)

// Checker makes the admission decision for metered actions. Quota
// denials are return values, never errors; callers branch on Allowed
// and surface Reason.
type Checker struct {
	cache   *Cache
	catalog *TierCatalog
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewChecker creates a new quota checker. m may be nil.
func NewChecker(cache *Cache, catalog *TierCatalog, logger *zap.Logger, m *metrics.Metrics) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		cache:   cache,
		catalog: catalog,
		logger:  logger,
		metrics: m,
	}
}

// CanPerformAction decides whether the user may perform the action for
// the requested amount, in the action's natural unit (image count, video
// seconds, token count, storage GB, project count, member count).
//
// Any fetch error fails closed: a backend outage must never grant
// unlimited access.
func (c *Checker) CanPerformAction(ctx context.Context, userID uuid.UUID, action ActionType, amount float64) QuotaCheckResult {
	result := c.check(ctx, userID, action, amount)
	c.metrics.RecordQuotaCheck(string(action), result.Allowed)
	return result
}

func (c *Checker) check(ctx context.Context, userID uuid.UUID, action ActionType, amount float64) QuotaCheckResult {
	// An absent identity is an authentication failure, not a quota
	// denial: no upgrade hint.
	if userID == uuid.Nil {
		return QuotaCheckResult{Allowed: false, Reason: ReasonAuthRequired}
	}

	// A negative amount is a caller bug.
	if amount < 0 {
		c.logger.Warn("negative amount in quota check",
			zap.String("user_id", userID.String()),
			zap.String("action", string(action)),
			zap.Float64("amount", amount),
		)
		return QuotaCheckResult{Allowed: false, Reason: ReasonInvalidAmount}
	}

	if !validAction(action) {
		c.logger.Warn("unknown action in quota check",
			zap.String("user_id", userID.String()),
			zap.String("action", string(action)),
		)
		return QuotaCheckResult{Allowed: false, Reason: ReasonUnknownAction}
	}

	// Zero-amount requests are always admitted.
	if amount == 0 {
		return QuotaCheckResult{Allowed: true}
	}

	sub, usage, err := c.fetch(ctx, userID)
	if err != nil {
		c.logger.Error("quota check fetch failed",
			zap.String("user_id", userID.String()),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return QuotaCheckResult{Allowed: false, Reason: ReasonCheckFailed}
	}

	// Studio is unlimited; nothing further to consult.
	if sub.Tier == TierStudio {
		return QuotaCheckResult{Allowed: true}
	}

	limits := c.catalog.GetLimits(sub.Tier)

	switch action {
	case ActionGenerateImage:
		if float64(usage.ImagesRemaining) < amount {
			return c.deny(sub.Tier, action,
				fmt.Sprintf("Image quota exceeded: %d of %d used this period", usage.ImagesUsed, usage.ImagesLimit),
				&UsageSnapshot{
					Used:      float64(usage.ImagesUsed),
					Limit:     float64(usage.ImagesLimit),
					Remaining: float64(usage.ImagesRemaining),
				})
		}

	case ActionGenerateVideo:
		if limits.MaxVideoDurationSeconds > 0 && amount > float64(limits.MaxVideoDurationSeconds) {
			return c.deny(sub.Tier, action,
				fmt.Sprintf("Clip length exceeds the %d second maximum for your plan", limits.MaxVideoDurationSeconds),
				nil)
		}
		// Compare the unconverted fractional minute value; rounding
		// here would admit in the user's favor.
		minutesNeeded := amount / 60.0
		if usage.VideoRemainingMinutes < minutesNeeded {
			return c.deny(sub.Tier, action,
				fmt.Sprintf("Video quota exceeded: %.1f of %.1f minutes used this period", usage.VideoMinutesUsed, usage.VideoMinutesLimit),
				&UsageSnapshot{
					Used:      usage.VideoMinutesUsed,
					Limit:     usage.VideoMinutesLimit,
					Remaining: usage.VideoRemainingMinutes,
				})
		}

	case ActionChat:
		if float64(usage.ChatTokensRemaining) < amount {
			return c.deny(sub.Tier, action,
				fmt.Sprintf("Chat token quota exceeded: %d of %d tokens used this period", usage.ChatTokensUsed, usage.ChatTokensLimit),
				&UsageSnapshot{
					Used:      float64(usage.ChatTokensUsed),
					Limit:     float64(usage.ChatTokensLimit),
					Remaining: float64(usage.ChatTokensRemaining),
				})
		}

	case ActionStorage:
		if usage.StorageRemainingGB < amount {
			return c.deny(sub.Tier, action,
				fmt.Sprintf("Storage quota exceeded: %.1f of %.1f GB used", usage.StorageUsedGB, usage.StorageLimitGB),
				&UsageSnapshot{
					Used:      usage.StorageUsedGB,
					Limit:     usage.StorageLimitGB,
					Remaining: usage.StorageRemainingGB,
				})
		}

	case ActionCreateProject:
		// Any tier can hit the project ceiling; denial always carries
		// the upgrade hint.
		if float64(usage.ProjectsRemaining) < amount {
			return c.deny(sub.Tier, action,
				fmt.Sprintf("Project limit reached: %d of %d projects used", usage.ProjectsUsed, usage.ProjectsLimit),
				&UsageSnapshot{
					Used:      float64(usage.ProjectsUsed),
					Limit:     float64(usage.ProjectsLimit),
					Remaining: float64(usage.ProjectsRemaining),
				})
		}

	case ActionAddTeamMember:
		if float64(usage.TeamMembersRemaining) < amount {
			return c.deny(sub.Tier, action,
				fmt.Sprintf("Team member limit reached: %d of %d seats used", usage.TeamMembersUsed, usage.TeamMembersLimit),
				&UsageSnapshot{
					Used:      float64(usage.TeamMembersUsed),
					Limit:     float64(usage.TeamMembersLimit),
					Remaining: float64(usage.TeamMembersRemaining),
				})
		}
	}

	return QuotaCheckResult{Allowed: true}
}

// fetch retrieves subscription and usage concurrently via the cache.
func (c *Checker) fetch(ctx context.Context, userID uuid.UUID) (*Subscription, *UsageStats, error) {
	type subResult struct {
		sub *Subscription
		err error
	}
	type usageResult struct {
		usage *UsageStats
		err   error
	}

	subCh := make(chan subResult, 1)
	usageCh := make(chan usageResult, 1)

	go func() {
		sub, err := c.cache.GetSubscription(ctx, userID, false)
		subCh <- subResult{sub: sub, err: err}
	}()
	go func() {
		usage, err := c.cache.GetUsage(ctx, userID, false)
		usageCh <- usageResult{usage: usage, err: err}
	}()

	sres := <-subCh
	ures := <-usageCh

	if sres.err != nil {
		return nil, nil, fmt.Errorf("fetch subscription: %w", sres.err)
	}
	// Studio short-circuits before usage is consulted, but a usage fetch
	// failure still fails the check for every limited tier.
	if sres.sub.Tier != TierStudio && ures.err != nil {
		return nil, nil, fmt.Errorf("fetch usage: %w", ures.err)
	}

	return sres.sub, ures.usage, nil
}

func (c *Checker) deny(tier SubscriptionTier, action ActionType, reason string, usage *UsageSnapshot) QuotaCheckResult {
	return QuotaCheckResult{
		Allowed:         false,
		Reason:          reason,
		UpgradeRequired: true,
		SuggestedTier:   suggestedUpgrade(tier, action),
		CurrentUsage:    usage,
	}
}

// suggestedUpgrade picks the next tier up from the current one. Team
// features are Studio-gated, so seat denials always point at Studio.
func suggestedUpgrade(current SubscriptionTier, action ActionType) SubscriptionTier {
	if action == ActionAddTeamMember {
		return TierStudio
	}
	switch current {
	case TierProMonthly, TierProYearly:
		return TierStudio
	default:
		return TierProMonthly
	}
}

func validAction(action ActionType) bool {
	switch action {
	case ActionGenerateImage, ActionGenerateVideo, ActionChat,
		ActionStorage, ActionCreateProject, ActionAddTeamMember:
		return true
	default:
		return false
	}
}
