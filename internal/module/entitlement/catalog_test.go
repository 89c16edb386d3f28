package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRegistersAllTiers(t *testing.T) {
	catalog := NewTierCatalog()

	tiers := catalog.Tiers()
	assert.Equal(t, []SubscriptionTier{TierFree, TierProMonthly, TierProYearly, TierStudio}, tiers)

	for _, tier := range tiers {
		limits := catalog.GetLimits(tier)
		assert.NotEmpty(t, limits.Name, "tier %s has no name", tier)
	}
}

func TestCatalogFreeTierLimits(t *testing.T) {
	limits := NewTierCatalog().GetLimits(TierFree)

	assert.Equal(t, int64(0), limits.PriceCents)
	assert.Equal(t, BillingPeriodOnce, limits.BillingPeriod)
	assert.Equal(t, 50, limits.ImageGenerationsPerMonth)
	assert.Equal(t, 5.0, limits.VideoMinutesPerMonth)
	assert.Equal(t, 30, limits.MaxVideoDurationSeconds)
	assert.Equal(t, int64(100_000), limits.ChatTokensPerMonth)
	assert.Equal(t, 2.0, limits.StorageTotalGB)
	assert.Equal(t, 3, limits.MaxProjects)
	assert.Equal(t, 1, limits.MaxTeamMembers)
}

func TestCatalogStudioIsUnlimited(t *testing.T) {
	limits := NewTierCatalog().GetLimits(TierStudio)

	assert.Equal(t, -1, limits.ImageGenerationsPerMonth)
	assert.Equal(t, -1.0, limits.VideoMinutesPerMonth)
	assert.Equal(t, int64(-1), limits.ChatTokensPerMonth)
	assert.Equal(t, -1.0, limits.StorageTotalGB)
	assert.Equal(t, -1, limits.MaxProjects)
	assert.Equal(t, -1, limits.MaxTeamMembers)
}

func TestCatalogYearlyMirrorsMonthlyLimits(t *testing.T) {
	catalog := NewTierCatalog()
	monthly := catalog.GetLimits(TierProMonthly)
	yearly := catalog.GetLimits(TierProYearly)

	assert.Equal(t, monthly.ImageGenerationsPerMonth, yearly.ImageGenerationsPerMonth)
	assert.Equal(t, monthly.VideoMinutesPerMonth, yearly.VideoMinutesPerMonth)
	assert.Equal(t, monthly.MaxVideoDurationSeconds, yearly.MaxVideoDurationSeconds)
	assert.Equal(t, monthly.ChatTokensPerMonth, yearly.ChatTokensPerMonth)
	assert.Equal(t, monthly.StorageTotalGB, yearly.StorageTotalGB)
	assert.Equal(t, monthly.MaxProjects, yearly.MaxProjects)
	assert.Equal(t, monthly.MaxTeamMembers, yearly.MaxTeamMembers)
	assert.Equal(t, BillingPeriodYear, yearly.BillingPeriod)
}

func TestCatalogYearlySavings(t *testing.T) {
	catalog := NewTierCatalog()

	savings := catalog.YearlySavings(TierProMonthly)
	require.Positive(t, savings)
	assert.Equal(t, int64(1999*12-19190), savings)

	assert.Zero(t, catalog.YearlySavings(TierFree))
	assert.Zero(t, catalog.YearlySavings(TierStudio))
}

func TestCatalogGetLimitsPanicsOnUnknownTier(t *testing.T) {
	catalog := NewTierCatalog()
	assert.Panics(t, func() {
		catalog.GetLimits(SubscriptionTier("enterprise"))
	})
}

func TestTierLifecycle(t *testing.T) {
	assert.False(t, IsPaidTier(TierFree))
	assert.True(t, IsPaidTier(TierProMonthly))
	assert.True(t, IsPaidTier(TierProYearly))
	assert.True(t, IsPaidTier(TierStudio))

	assert.False(t, IsYearlyTier(TierProMonthly))
	assert.True(t, IsYearlyTier(TierProYearly))

	assert.Equal(t, TierProMonthly, BaseTier(TierProYearly))
	assert.Equal(t, TierProMonthly, BaseTier(TierProMonthly))
	assert.Equal(t, TierStudio, BaseTier(TierStudio))

	assert.Equal(t, int64(4798), CalculateYearlySavings(TierProMonthly))
}
