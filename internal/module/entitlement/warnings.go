package entitlement

import "fmt"

// Warning thresholds, as a fraction of the limit. Video and storage
// warn later than images because their consumption is burstier; chat
// tokens warn latest because single conversations can swing usage by
// whole percents.
const (
	imageHighThreshold       = 0.70
	imageCriticalThreshold   = 0.85
	videoCriticalThreshold   = 0.85
	chatCriticalThreshold    = 0.90
	storageCriticalThreshold = 0.85
)

// ClassifyUsage derives the banner-worthy warnings from a usage
// snapshot. Output order is stable: images, video, chat, storage.
// Unlimited resources and the Studio tier never warn.
func ClassifyUsage(usage *UsageStats, tier SubscriptionTier) []UsageWarning {
	if usage == nil || tier == TierStudio {
		return nil
	}

	var warnings []UsageWarning

	if w := classifyImages(usage); w != nil {
		warnings = append(warnings, *w)
	}
	if w := classifyVideo(usage); w != nil {
		warnings = append(warnings, *w)
	}
	if w := classifyChat(usage); w != nil {
		warnings = append(warnings, *w)
	}
	if w := classifyStorage(usage); w != nil {
		warnings = append(warnings, *w)
	}

	return warnings
}

func classifyImages(usage *UsageStats) *UsageWarning {
	if usage.ImagesLimit <= 0 {
		return nil
	}
	used := float64(usage.ImagesUsed)
	limit := float64(usage.ImagesLimit)
	ratio := used / limit

	var level WarningLevel
	var message string
	switch {
	case ratio >= 1.0:
		level = WarningExceeded
		message = fmt.Sprintf("You've used all %d image generations for this period", usage.ImagesLimit)
	case ratio >= imageCriticalThreshold:
		level = WarningCritical
		message = fmt.Sprintf("Only %d image generations left this period", usage.ImagesRemaining)
	case ratio >= imageHighThreshold:
		level = WarningHigh
		message = fmt.Sprintf("You've used %d of %d image generations this period", usage.ImagesUsed, usage.ImagesLimit)
	default:
		return nil
	}

	return newWarning(ResourceImage, level, message, ratio)
}

func classifyVideo(usage *UsageStats) *UsageWarning {
	if usage.VideoMinutesLimit <= 0 {
		return nil
	}
	ratio := usage.VideoMinutesUsed / usage.VideoMinutesLimit

	var level WarningLevel
	var message string
	switch {
	case ratio >= 1.0:
		level = WarningExceeded
		message = fmt.Sprintf("You've used all %.0f video minutes for this period", usage.VideoMinutesLimit)
	case ratio >= videoCriticalThreshold:
		level = WarningCritical
		message = fmt.Sprintf("Only %.1f video minutes left this period", usage.VideoRemainingMinutes)
	default:
		return nil
	}

	return newWarning(ResourceVideo, level, message, ratio)
}

func classifyChat(usage *UsageStats) *UsageWarning {
	if usage.ChatTokensLimit <= 0 {
		return nil
	}
	ratio := float64(usage.ChatTokensUsed) / float64(usage.ChatTokensLimit)

	var level WarningLevel
	var message string
	switch {
	case ratio >= 1.0:
		level = WarningExceeded
		message = fmt.Sprintf("You've used all %d chat tokens for this period", usage.ChatTokensLimit)
	case ratio >= chatCriticalThreshold:
		level = WarningCritical
		message = fmt.Sprintf("Only %d chat tokens left this period", usage.ChatTokensRemaining)
	default:
		return nil
	}

	return newWarning(ResourceChatTokens, level, message, ratio)
}

func classifyStorage(usage *UsageStats) *UsageWarning {
	if usage.StorageLimitGB <= 0 {
		return nil
	}
	ratio := usage.StorageUsedGB / usage.StorageLimitGB

	var level WarningLevel
	var message string
	switch {
	case ratio >= 1.0:
		level = WarningExceeded
		message = fmt.Sprintf("Your %.0f GB of storage is full", usage.StorageLimitGB)
	case ratio >= storageCriticalThreshold:
		level = WarningCritical
		message = fmt.Sprintf("Only %.1f GB of storage left", usage.StorageRemainingGB)
	default:
		return nil
	}

	return newWarning(ResourceStorage, level, message, ratio)
}

func newWarning(resource ResourceType, level WarningLevel, message string, ratio float64) *UsageWarning {
	return &UsageWarning{
		ResourceType: resource,
		Level:        level,
		Message:      message,
		Percentage:   ratio * 100,
		// An exceeded warning stays on screen until the period resets.
		Dismissible: level != WarningExceeded,
	}
}
