package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backstage-ai/backstage-agent/internal/adapters/storage/sqlite"
	"github.com/backstage-ai/backstage-agent/internal/domain"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestSessionRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	session := &domain.Session{
		ID:       "sess-1",
		UserID:   "user-1",
		Title:    "release planning",
		AgentIDs: []string{"marketing"},
		Messages: []*domain.Message{
			{ID: "m1", SessionID: "sess-1", Role: domain.RoleUser, Text: "hello", Timestamp: now},
			{ID: "m2", SessionID: "sess-1", Role: domain.RoleModel, Text: "hi", Timestamp: now.Add(time.Second)},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := store.SessionsForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("SessionsForUser: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d sessions", len(got))
	}
	if got[0].Title != "release planning" || len(got[0].Messages) != 2 {
		t.Fatalf("round trip lost data: %+v", got[0])
	}
	if got[0].Messages[1].Role != domain.RoleModel || got[0].Messages[1].Text != "hi" {
		t.Fatalf("message mangled: %+v", got[0].Messages[1])
	}
}

func TestUpdateSessionReplacesMessageList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	session := &domain.Session{
		ID:     "sess-1",
		UserID: "user-1",
		Messages: []*domain.Message{
			{ID: "m1", Role: domain.RoleUser, Text: "first"},
		},
	}
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	session.Messages = nil
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := store.SessionsForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("SessionsForUser: %v", err)
	}
	if len(got[0].Messages) != 0 {
		t.Fatalf("cleared history persisted %d messages", len(got[0].Messages))
	}
}

func TestDeleteSession(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.UpdateSession(ctx, &domain.Session{ID: "sess-1", UserID: "user-1"}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if err := store.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	got, err := store.SessionsForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("SessionsForUser: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("session survived delete")
	}
}

func TestIncrementUsageCreatesThenIncrements(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.IncrementUsage(ctx, "user-1", "2026-05-01", 150, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	if err := store.IncrementUsage(ctx, "user-1", "2026-05-01", 150, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	rec, err := store.UsageFor(ctx, "user-1", "2026-05-01")
	if err != nil {
		t.Fatalf("UsageFor: %v", err)
	}
	if rec.TokensUsed != 300 || rec.RequestCount != 2 {
		t.Fatalf("usage = %d/%d, want 300/2", rec.TokensUsed, rec.RequestCount)
	}
}

func TestUsageForMissingDay(t *testing.T) {
	store := newStore(t)

	_, err := store.UsageFor(context.Background(), "user-1", "2026-05-01")
	if !errors.Is(err, domain.ErrUsageNotFound) {
		t.Fatalf("want ErrUsageNotFound, got %v", err)
	}
}

func TestUsageIsolatedPerDayAndUser(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.IncrementUsage(ctx, "user-1", "2026-05-01", 100, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	if err := store.IncrementUsage(ctx, "user-1", "2026-05-02", 200, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	if err := store.IncrementUsage(ctx, "user-2", "2026-05-01", 300, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	rec, err := store.UsageFor(ctx, "user-1", "2026-05-01")
	if err != nil {
		t.Fatalf("UsageFor: %v", err)
	}
	if rec.TokensUsed != 100 {
		t.Fatalf("day one tokens = %d, want 100", rec.TokensUsed)
	}
}
