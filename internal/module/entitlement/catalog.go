package entitlement

import "fmt"

// TierCatalog is the static registry mapping each tier to its limit table.
// The table is immutable after construction, so unsynchronized concurrent
// reads are safe.
type TierCatalog struct {
	limits map[SubscriptionTier]TierLimits
	order  []SubscriptionTier
}

// NewTierCatalog creates the catalog with the product's tier tables.
// Yearly Pro shares the monthly Pro ceilings; only price and billing
// period differ.
func NewTierCatalog() *TierCatalog {
	proLimits := TierLimits{
		Name:                     "Pro",
		PriceCents:               1999,
		BillingPeriod:            BillingPeriodMonth,
		ImageGenerationsPerMonth: 1000,
		VideoMinutesPerMonth:     60,
		MaxVideoDurationSeconds:  120,
		ChatTokensPerMonth:       2_000_000,
		StorageTotalGB:           100,
		MaxProjects:              50,
		MaxTeamMembers:           5,
		Features: []string{
			"image_generation",
			"video_generation",
			"ai_chat",
			"priority_rendering",
		},
	}

	proYearly := proLimits
	proYearly.Name = "Pro (Yearly)"
	proYearly.PriceCents = 19190
	proYearly.BillingPeriod = BillingPeriodYear

	c := &TierCatalog{
		limits: map[SubscriptionTier]TierLimits{
			TierFree: {
				Name:                     "Free",
				PriceCents:               0,
				BillingPeriod:            BillingPeriodOnce,
				ImageGenerationsPerMonth: 50,
				VideoMinutesPerMonth:     5,
				MaxVideoDurationSeconds:  30,
				ChatTokensPerMonth:       100_000,
				StorageTotalGB:           2,
				MaxProjects:              3,
				MaxTeamMembers:           1,
				Features: []string{
					"image_generation",
					"ai_chat",
				},
			},
			TierProMonthly: proLimits,
			TierProYearly:  proYearly,
			TierStudio: {
				Name:                     "Studio",
				PriceCents:               4999,
				BillingPeriod:            BillingPeriodMonth,
				ImageGenerationsPerMonth: -1,
				VideoMinutesPerMonth:     -1,
				MaxVideoDurationSeconds:  600,
				ChatTokensPerMonth:       -1,
				StorageTotalGB:           -1,
				MaxProjects:              -1,
				MaxTeamMembers:           -1,
				Features: []string{
					"image_generation",
					"video_generation",
					"ai_chat",
					"priority_rendering",
					"team_workspaces",
					"api_access",
				},
			},
		},
		order: []SubscriptionTier{TierFree, TierProMonthly, TierProYearly, TierStudio},
	}

	return c
}

// GetLimits returns the limit table for a tier.
// An unregistered tier is a programming error and panics.
func (c *TierCatalog) GetLimits(tier SubscriptionTier) TierLimits {
	limits, ok := c.limits[tier]
	if !ok {
		panic(fmt.Sprintf("entitlement: unregistered tier %q", tier))
	}
	return limits
}

// IsPaid returns true for every tier except Free.
func (c *TierCatalog) IsPaid(tier SubscriptionTier) bool {
	return tier != TierFree
}

// BaseTier maps a yearly tier to its monthly counterpart so limit tables
// can be compared without duplication. Identity for everything else.
func (c *TierCatalog) BaseTier(tier SubscriptionTier) SubscriptionTier {
	if tier == TierProYearly {
		return TierProMonthly
	}
	return tier
}

// YearlySavings computes monthlyPrice*12 - yearlyPrice in cents for a
// monthly tier. Returns 0 for tiers without a yearly counterpart.
func (c *TierCatalog) YearlySavings(tier SubscriptionTier) int64 {
	yearly, ok := yearlyCounterpart(tier)
	if !ok {
		return 0
	}
	monthlyLimits, hasMonthly := c.limits[tier]
	yearlyLimits, hasYearly := c.limits[yearly]
	if !hasMonthly || !hasYearly {
		return 0
	}
	return monthlyLimits.PriceCents*12 - yearlyLimits.PriceCents
}

// Tiers returns all registered tiers in stable declaration order.
func (c *TierCatalog) Tiers() []SubscriptionTier {
	tiers := make([]SubscriptionTier, len(c.order))
	copy(tiers, c.order)
	return tiers
}

func yearlyCounterpart(tier SubscriptionTier) (SubscriptionTier, bool) {
	if tier == TierProMonthly {
		return TierProYearly, true
	}
	return "", false
}
