package entitlement

// Tier lifecycle helpers consumed by billing-facing collaborators
// (checkout, pricing page). They share the static catalog with the
// admission path so the two can never drift.

var defaultCatalog = NewTierCatalog()

// IsPaidTier returns true for every tier except Free.
func IsPaidTier(tier SubscriptionTier) bool {
	return defaultCatalog.IsPaid(tier)
}

// IsYearlyTier returns true for yearly-billed tiers.
func IsYearlyTier(tier SubscriptionTier) bool {
	return defaultCatalog.GetLimits(tier).BillingPeriod == BillingPeriodYear
}

// BaseTier maps a yearly tier to its monthly counterpart, identity otherwise.
func BaseTier(tier SubscriptionTier) SubscriptionTier {
	return defaultCatalog.BaseTier(tier)
}

// CalculateYearlySavings computes monthlyPrice*12 - yearlyPrice in cents.
// Returns 0 for tiers without a yearly counterpart.
func CalculateYearlySavings(tier SubscriptionTier) int64 {
	return defaultCatalog.YearlySavings(tier)
}
