package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier identifies a subscription plan level.
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierProMonthly SubscriptionTier = "pro_monthly"
	TierProYearly  SubscriptionTier = "pro_yearly"
	TierStudio     SubscriptionTier = "studio"
)

// BillingPeriod represents how often a tier is billed.
type BillingPeriod string

const (
	BillingPeriodMonth BillingPeriod = "month"
	BillingPeriodYear  BillingPeriod = "year"
	BillingPeriodOnce  BillingPeriod = "once"
)

// TierLimits describes the per-resource ceilings of a tier.
// A value of -1 means unlimited; the Studio tier is never compared against
// its limits (the checker bypasses it entirely), the -1 entries only keep
// the table total.
type TierLimits struct {
	Name          string        `json:"name"`
	PriceCents    int64         `json:"price_cents"`
	BillingPeriod BillingPeriod `json:"billing_period"`

	ImageGenerationsPerMonth int     `json:"image_generations_per_month"`
	VideoMinutesPerMonth     float64 `json:"video_minutes_per_month"`
	MaxVideoDurationSeconds  int     `json:"max_video_duration_seconds"`
	ChatTokensPerMonth       int64   `json:"chat_tokens_per_month"`
	StorageTotalGB           float64 `json:"storage_total_gb"`
	MaxProjects              int     `json:"max_projects"`
	MaxTeamMembers           int     `json:"max_team_members"`

	Features []string `json:"features"`
}

// SubscriptionStatus represents the status of a subscription.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusIncomplete SubscriptionStatus = "incomplete"
)

// Subscription represents a user's subscription to a tier.
type Subscription struct {
	ID                   uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID               uuid.UUID          `json:"user_id" gorm:"type:uuid;uniqueIndex;not null"`
	Tier                 SubscriptionTier   `json:"tier" gorm:"not null;default:free"`
	Status               SubscriptionStatus `json:"status" gorm:"not null;default:active"`
	StripeCustomerID     string             `json:"-"`
	StripeSubscriptionID string             `json:"-"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end" gorm:"default:false"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TableName returns the database table name.
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsActive returns true if the subscription is active or trialing.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// IsCanceled returns true if the subscription is canceled.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// ActionType identifies a metered user action.
type ActionType string

const (
	ActionGenerateImage ActionType = "generate_image"
	ActionGenerateVideo ActionType = "generate_video"
	ActionChat          ActionType = "chat"
	ActionStorage       ActionType = "storage"
	ActionCreateProject ActionType = "create_project"
	ActionAddTeamMember ActionType = "add_team_member"
)

// ResourceType identifies a metered resource.
type ResourceType string

const (
	ResourceImage      ResourceType = "image"
	ResourceVideo      ResourceType = "video"
	ResourceChatTokens ResourceType = "chat_tokens"
	ResourceStorage    ResourceType = "storage"
	ResourceProject    ResourceType = "project"
	ResourceTeamMember ResourceType = "team_member"
	ResourceExport     ResourceType = "export"
)

// UsageStats is a point-in-time snapshot of a user's consumption this
// billing period. It is derived from the usage ledger and cached; the
// ledger stays authoritative.
type UsageStats struct {
	Tier      SubscriptionTier `json:"tier"`
	ResetDate time.Time        `json:"reset_date"`

	ImagesUsed      int `json:"images_used"`
	ImagesLimit     int `json:"images_limit"`
	ImagesRemaining int `json:"images_remaining"`

	VideoMinutesUsed      float64 `json:"video_minutes_used"`
	VideoMinutesLimit     float64 `json:"video_minutes_limit"`
	VideoRemainingMinutes float64 `json:"video_remaining_minutes"`

	ChatTokensUsed      int64 `json:"chat_tokens_used"`
	ChatTokensLimit     int64 `json:"chat_tokens_limit"`
	ChatTokensRemaining int64 `json:"chat_tokens_remaining"`

	StorageUsedGB      float64 `json:"storage_used_gb"`
	StorageLimitGB     float64 `json:"storage_limit_gb"`
	StorageRemainingGB float64 `json:"storage_remaining_gb"`

	ProjectsUsed      int `json:"projects_used"`
	ProjectsLimit     int `json:"projects_limit"`
	ProjectsRemaining int `json:"projects_remaining"`

	TeamMembersUsed      int `json:"team_members_used"`
	TeamMembersLimit     int `json:"team_members_limit"`
	TeamMembersRemaining int `json:"team_members_remaining"`
}

// Consistent reports whether used + remaining == limit holds for every
// resource in the snapshot.
func (u *UsageStats) Consistent() bool {
	const eps = 1e-9
	if u.ImagesUsed+u.ImagesRemaining != u.ImagesLimit {
		return false
	}
	if diff := u.VideoMinutesUsed + u.VideoRemainingMinutes - u.VideoMinutesLimit; diff > eps || diff < -eps {
		return false
	}
	if u.ChatTokensUsed+u.ChatTokensRemaining != u.ChatTokensLimit {
		return false
	}
	if diff := u.StorageUsedGB + u.StorageRemainingGB - u.StorageLimitGB; diff > eps || diff < -eps {
		return false
	}
	if u.ProjectsUsed+u.ProjectsRemaining != u.ProjectsLimit {
		return false
	}
	if u.TeamMembersUsed+u.TeamMembersRemaining != u.TeamMembersLimit {
		return false
	}
	return true
}

// Normalize recomputes every remaining value from limit minus used,
// clamped at zero. It is applied to snapshots that fail the Consistent
// check after a fetch so a stale snapshot degrades instead of crashing.
func (u *UsageStats) Normalize() {
	u.ImagesRemaining = clampInt(u.ImagesLimit - u.ImagesUsed)
	u.VideoRemainingMinutes = clampFloat(u.VideoMinutesLimit - u.VideoMinutesUsed)
	u.ChatTokensRemaining = clampInt64(u.ChatTokensLimit - u.ChatTokensUsed)
	u.StorageRemainingGB = clampFloat(u.StorageLimitGB - u.StorageUsedGB)
	u.ProjectsRemaining = clampInt(u.ProjectsLimit - u.ProjectsUsed)
	u.TeamMembersRemaining = clampInt(u.TeamMembersLimit - u.TeamMembersUsed)
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clampInt64(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// NewUsageStats returns a zero-consumption snapshot for the given tier limits.
func NewUsageStats(tier SubscriptionTier, limits TierLimits, resetDate time.Time) *UsageStats {
	return &UsageStats{
		Tier:      tier,
		ResetDate: resetDate,

		ImagesLimit:     limits.ImageGenerationsPerMonth,
		ImagesRemaining: limits.ImageGenerationsPerMonth,

		VideoMinutesLimit:     limits.VideoMinutesPerMonth,
		VideoRemainingMinutes: limits.VideoMinutesPerMonth,

		ChatTokensLimit:     limits.ChatTokensPerMonth,
		ChatTokensRemaining: limits.ChatTokensPerMonth,

		StorageLimitGB:     limits.StorageTotalGB,
		StorageRemainingGB: limits.StorageTotalGB,

		ProjectsLimit:     limits.MaxProjects,
		ProjectsRemaining: limits.MaxProjects,

		TeamMembersLimit:     limits.MaxTeamMembers,
		TeamMembersRemaining: limits.MaxTeamMembers,
	}
}

// UsageSnapshot summarizes one resource's consumption inside a check result.
type UsageSnapshot struct {
	Used      float64 `json:"used"`
	Limit     float64 `json:"limit"`
	Remaining float64 `json:"remaining"`
}

// QuotaCheckResult is the outcome of an admission check. It is returned
// per check and never persisted.
type QuotaCheckResult struct {
	Allowed         bool             `json:"allowed"`
	Reason          string           `json:"reason,omitempty"`
	UpgradeRequired bool             `json:"upgrade_required,omitempty"`
	SuggestedTier   SubscriptionTier `json:"suggested_tier,omitempty"`
	CurrentUsage    *UsageSnapshot   `json:"current_usage,omitempty"`
}

// WarningLevel classifies how close usage is to its ceiling.
type WarningLevel string

const (
	WarningNormal   WarningLevel = "normal"
	WarningHigh     WarningLevel = "high"
	WarningCritical WarningLevel = "critical"
	WarningExceeded WarningLevel = "exceeded"
)

// UsageWarning is a UI nudge for a resource approaching or past its ceiling.
type UsageWarning struct {
	ResourceType ResourceType `json:"resource_type"`
	Level        WarningLevel `json:"level"`
	Message      string       `json:"message"`
	Percentage   float64      `json:"percentage"`
	Dismissible  bool         `json:"dismissible"`
}

// UsageEvent is a single consumption event forwarded to the usage ledger.
type UsageEvent struct {
	ID           int64        `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       uuid.UUID    `json:"user_id" gorm:"type:uuid;not null;index:idx_usage_events_user_period"`
	ResourceType ResourceType `json:"resource_type" gorm:"not null"`
	Amount       float64      `json:"amount" gorm:"not null"`
	Metadata     string       `json:"metadata,omitempty"`
	CreatedAt    time.Time    `json:"created_at" gorm:"index:idx_usage_events_user_period"`
}

// TableName returns the database table name.
func (UsageEvent) TableName() string {
	return "usage_events"
}
