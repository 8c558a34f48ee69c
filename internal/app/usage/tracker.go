// Package usage tracks per-user daily token consumption and enforces
// tier ceilings. Tracking is best-effort and enforcement fails open:
// this is a cost-control measure, not a security boundary, so
// availability wins over strict accounting.
package usage

import (
	"context"
	"errors"
	"time"

	"github.com/backstage-ai/backstage-agent/internal/domain"
	"github.com/backstage-ai/backstage-agent/internal/observability"
)

const dayFormat = "2006-01-02"

// Tracker combines a usage repository with a tier lookup.
type Tracker struct {
	repo domain.UsageRepository
	tier func(domain.UserID) domain.Tier
	now  func() time.Time
}

// NewTracker builds a Tracker. tier may be nil, which pins every user
// to the free tier.
func NewTracker(repo domain.UsageRepository, tier func(domain.UserID) domain.Tier) *Tracker {
	if tier == nil {
		tier = func(domain.UserID) domain.Tier { return domain.TierFree }
	}
	return &Tracker{
		repo: repo,
		tier: tier,
		now:  time.Now,
	}
}

// SetClock overrides the time source. Tests use it to pin the day.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// TrackUsage increments the user's counter for today. The repository
// attempts an update-in-place first and creates the day's record when
// none exists, so the first call of a day needs no prior read. Errors
// are logged and swallowed; a lost increment never fails a turn.
func (t *Tracker) TrackUsage(ctx context.Context, userID domain.UserID, model string, inputTokens, outputTokens int) {
	day := t.now().UTC().Format(dayFormat)
	total := int64(inputTokens + outputTokens)

	if err := t.repo.IncrementUsage(ctx, userID, day, total, 1); err != nil {
		observability.LoggerFromContext(ctx).Error("usage increment failed",
			"user_id", userID,
			"model", model,
			"tokens", total,
			"error", err,
		)
	}
}

// CheckQuota compares today's consumption with the user's tier limit.
// No record yet means no usage: allowed. An ambiguous read error also
// allows (fail-open). Exceeding the limit yields a typed
// *domain.QuotaExceededError carrying the limit and an upgrade hint.
func (t *Tracker) CheckQuota(ctx context.Context, userID domain.UserID) error {
	day := t.now().UTC().Format(dayFormat)

	rec, err := t.repo.UsageFor(ctx, userID, day)
	if err != nil {
		if !errors.Is(err, domain.ErrUsageNotFound) {
			observability.LoggerFromContext(ctx).Warn("quota read failed, allowing request",
				"user_id", userID,
				"error", err,
			)
		}
		return nil
	}

	tier := t.tier(userID)
	limits := LimitsFor(tier)
	if rec.TokensUsed >= limits.DailyTokens {
		return &domain.QuotaExceededError{
			Tier:        tier,
			Limit:       limits.DailyTokens,
			Used:        rec.TokensUsed,
			UpgradeHint: UpgradeHint(tier),
		}
	}
	return nil
}

// Status reports today's consumption against the tier limit for
// read-only surfaces (quota dashboards).
func (t *Tracker) Status(ctx context.Context, userID domain.UserID) (used, limit int64, tier domain.Tier) {
	tier = t.tier(userID)
	limit = LimitsFor(tier).DailyTokens

	day := t.now().UTC().Format(dayFormat)
	rec, err := t.repo.UsageFor(ctx, userID, day)
	if err != nil {
		return 0, limit, tier
	}
	return rec.TokensUsed, limit, tier
}
