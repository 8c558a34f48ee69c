package memory

import (
	"context"
	"sync"

	"github.com/backstage-ai/backstage-agent/internal/domain"
)

// UsageRepo keeps per-user daily usage counters in memory.
type UsageRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.UsageRecord
}

func NewUsageRepo() *UsageRepo {
	return &UsageRepo{
		records: make(map[string]*domain.UsageRecord),
	}
}

func usageKey(userID domain.UserID, day string) string {
	return string(userID) + "_" + day
}

// IncrementUsage adds tokens and one request to the record for the
// user's day, creating it on first use.
func (r *UsageRepo) IncrementUsage(ctx context.Context, userID domain.UserID, day string, tokens, requests int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := usageKey(userID, day)
	rec, ok := r.records[key]
	if !ok {
		rec = &domain.UsageRecord{UserID: userID, Day: day}
		r.records[key] = rec
	}
	rec.TokensUsed += tokens
	rec.RequestCount += requests
	return nil
}

func (r *UsageRepo) UsageFor(ctx context.Context, userID domain.UserID, day string) (*domain.UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[usageKey(userID, day)]
	if !ok {
		return nil, domain.ErrUsageNotFound
	}
	out := *rec
	return &out, nil
}
