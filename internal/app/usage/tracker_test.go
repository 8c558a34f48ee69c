package usage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backstage-ai/backstage-agent/internal/adapters/storage/memory"
	"github.com/backstage-ai/backstage-agent/internal/app/usage"
	"github.com/backstage-ai/backstage-agent/internal/domain"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
}

func TestTrackUsageAccumulatesWithinDay(t *testing.T) {
	repo := memory.NewUsageRepo()
	tracker := usage.NewTracker(repo, nil)
	tracker.SetClock(fixedClock)

	ctx := context.Background()
	tracker.TrackUsage(ctx, "user-1", "gemini-2.5-flash", 100, 50)

	rec, err := repo.UsageFor(ctx, "user-1", "2026-03-14")
	if err != nil {
		t.Fatalf("UsageFor: %v", err)
	}
	if rec.TokensUsed != 150 || rec.RequestCount != 1 {
		t.Fatalf("after first call: tokens=%d requests=%d, want 150/1", rec.TokensUsed, rec.RequestCount)
	}

	tracker.TrackUsage(ctx, "user-1", "gemini-2.5-flash", 100, 50)

	rec, err = repo.UsageFor(ctx, "user-1", "2026-03-14")
	if err != nil {
		t.Fatalf("UsageFor: %v", err)
	}
	if rec.TokensUsed != 300 || rec.RequestCount != 2 {
		t.Fatalf("after second call: tokens=%d requests=%d, want 300/2", rec.TokensUsed, rec.RequestCount)
	}
}

func TestCheckQuotaAllowsFreshDay(t *testing.T) {
	tracker := usage.NewTracker(memory.NewUsageRepo(), nil)

	if err := tracker.CheckQuota(context.Background(), "user-1"); err != nil {
		t.Fatalf("fresh day should be allowed, got %v", err)
	}
}

func TestCheckQuotaRejectsOverLimit(t *testing.T) {
	repo := memory.NewUsageRepo()
	tracker := usage.NewTracker(repo, nil)
	tracker.SetClock(fixedClock)

	ctx := context.Background()
	if err := repo.IncrementUsage(ctx, "user-1", "2026-03-14", 10_000, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	err := tracker.CheckQuota(ctx, "user-1")
	var quotaErr *domain.QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("want QuotaExceededError, got %v", err)
	}
	if quotaErr.Tier != domain.TierFree || quotaErr.Limit != 10_000 || quotaErr.Used != 10_000 {
		t.Fatalf("unexpected quota error: %+v", quotaErr)
	}
	if quotaErr.UpgradeHint == "" {
		t.Fatal("quota error should carry an upgrade hint")
	}
}

func TestCheckQuotaHonorsTier(t *testing.T) {
	repo := memory.NewUsageRepo()
	tracker := usage.NewTracker(repo, func(domain.UserID) domain.Tier { return domain.TierPro })
	tracker.SetClock(fixedClock)

	ctx := context.Background()
	if err := repo.IncrementUsage(ctx, "user-1", "2026-03-14", 150_000, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	if err := tracker.CheckQuota(ctx, "user-1"); err != nil {
		t.Fatalf("150k tokens is under the pro limit, got %v", err)
	}
}

type failingUsageRepo struct{}

func (failingUsageRepo) IncrementUsage(context.Context, domain.UserID, string, int64, int64) error {
	return errors.New("backend unavailable")
}

func (failingUsageRepo) UsageFor(context.Context, domain.UserID, string) (*domain.UsageRecord, error) {
	return nil, errors.New("backend unavailable")
}

func TestCheckQuotaFailsOpenOnReadError(t *testing.T) {
	tracker := usage.NewTracker(failingUsageRepo{}, nil)

	if err := tracker.CheckQuota(context.Background(), "user-1"); err != nil {
		t.Fatalf("read errors must not block requests, got %v", err)
	}
}

func TestTrackUsageSwallowsWriteError(t *testing.T) {
	tracker := usage.NewTracker(failingUsageRepo{}, nil)

	// Must not panic or surface the error.
	tracker.TrackUsage(context.Background(), "user-1", "gemini-2.5-flash", 10, 10)
}

func TestStatusReportsUsageAgainstLimit(t *testing.T) {
	repo := memory.NewUsageRepo()
	tracker := usage.NewTracker(repo, nil)
	tracker.SetClock(fixedClock)

	ctx := context.Background()
	tracker.TrackUsage(ctx, "user-1", "gemini-2.5-flash", 400, 100)

	used, limit, tier := tracker.Status(ctx, "user-1")
	if used != 500 || limit != 10_000 || tier != domain.TierFree {
		t.Fatalf("status = %d/%d tier %q, want 500/10000 free", used, limit, tier)
	}
}
