package rotation

import (
	"time"
)

// TierName represents the different schedule and age tiers
type TierName string

const (
	TierHourly    TierName = "hourly"
	TierDaily     TierName = "daily"
	TierWeekly    TierName = "weekly"
	TierMonthly   TierName = "monthly"
	TierQuarterly TierName = "quarterly"
	TierYearly    TierName = "yearly"
)

// TierInterval maps tier names to their durations
var TierInterval = map[TierName]time.Duration{
	TierHourly:    1 * time.Hour,
	TierDaily:     24 * time.Hour,
	TierWeekly:    7 * 24 * time.Hour,
	TierMonthly:   30 * 24 * time.Hour,
	TierQuarterly: 90 * 24 * time.Hour,
	TierYearly:    365 * 24 * time.Hour,
}

// TierOrder lists tiers shortest first
var TierOrder = []TierName{TierHourly, TierDaily, TierWeekly, TierMonthly, TierQuarterly, TierYearly}

// CategorizeTier determines which tier a run belongs to based on its age
func CategorizeTier(runTime time.Time, now time.Time) TierName {
	age := now.Sub(runTime)

	switch {
	case age <= 24*time.Hour:
		return TierHourly
	case age <= 7*24*time.Hour:
		return TierDaily
	case age <= 30*24*time.Hour:
		return TierWeekly
	case age <= 90*24*time.Hour:
		return TierMonthly
	case age <= 365*24*time.Hour:
		return TierQuarterly
	default:
		return TierYearly
	}
}
