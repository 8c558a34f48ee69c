package usage

import "github.com/backstage-ai/backstage-agent/internal/domain"

// Limits is what a membership tier entitles a user to per day.
type Limits struct {
	DailyTokens int64
	DisplayName string
}

var tierLimits = map[domain.Tier]Limits{
	domain.TierFree:       {DailyTokens: 10_000, DisplayName: "Free"},
	domain.TierPro:        {DailyTokens: 200_000, DisplayName: "Pro"},
	domain.TierEnterprise: {DailyTokens: 2_000_000, DisplayName: "Enterprise"},
}

// LimitsFor returns the limits for tier, defaulting to free for
// anything unrecognized.
func LimitsFor(tier domain.Tier) Limits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[domain.TierFree]
}

// UpgradeHint names the next tier worth pitching when a limit is hit.
func UpgradeHint(tier domain.Tier) string {
	switch tier {
	case domain.TierFree:
		return "Upgrade to Pro for a larger daily token allowance."
	case domain.TierPro:
		return "Upgrade to Enterprise for a larger daily token allowance."
	default:
		return "Your daily token allowance resets at midnight UTC."
	}
}
