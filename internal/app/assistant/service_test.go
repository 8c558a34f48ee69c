package assistant_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/backstage-ai/backstage-agent/internal/adapters/llm"
	"github.com/backstage-ai/backstage-agent/internal/adapters/storage/memory"
	"github.com/backstage-ai/backstage-agent/internal/app/agent"
	"github.com/backstage-ai/backstage-agent/internal/app/assistant"
	"github.com/backstage-ai/backstage-agent/internal/app/cache"
	"github.com/backstage-ai/backstage-agent/internal/app/router"
	"github.com/backstage-ai/backstage-agent/internal/app/session"
	"github.com/backstage-ai/backstage-agent/internal/app/usage"
	"github.com/backstage-ai/backstage-agent/internal/domain"
)

func newService(client domain.ModelClient, usageRepo domain.UsageRepository) (*assistant.Service, *session.Store) {
	registry := agent.DefaultRegistry()
	tracker := usage.NewTracker(usageRepo, nil)
	store := session.NewStore(memory.NewSessionRepo(), "user-1")
	eng := agent.NewEngine(client, cache.New(), tracker, "test-model", 8192)
	rt := router.New(client, registry, store, "test-router-model")
	return assistant.NewService(eng, registry, rt, store, tracker, "user-1"), store
}

func TestSendMessageRoutesAndReplies(t *testing.T) {
	mock := llm.NewMock(
		&domain.ModelResponse{Text: "music"},
		&domain.ModelResponse{Text: "Try a IV-V-vi progression.", InputTokens: 20, OutputTokens: 10},
	)
	svc, store := newService(mock, memory.NewUsageRepo())
	ctx := context.Background()

	out, err := svc.StartSession(ctx, assistant.StartSessionInput{Title: "songwriting"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	reply, err := svc.SendMessage(ctx, assistant.SendMessageInput{
		SessionID: out.Session.ID,
		Text:      "ideas for the bridge section",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.AgentID != "music" {
		t.Fatalf("agent = %q, want music", reply.AgentID)
	}
	if reply.AgentMessage.Text != "Try a IV-V-vi progression." {
		t.Fatalf("reply = %q", reply.AgentMessage.Text)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("provider calls = %d, want 2 (classify + generate)", mock.CallCount())
	}

	msgs := store.ActiveMessages()
	if len(msgs) != 2 {
		t.Fatalf("session has %d messages, want user + model", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleModel {
		t.Fatalf("roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].IsStreaming {
		t.Fatal("reply should be finalized")
	}
}

func TestSendMessageReusesRoutedAgent(t *testing.T) {
	mock := llm.NewMock(
		&domain.ModelResponse{Text: "marketing"},
		&domain.ModelResponse{Text: "First reply.", InputTokens: 10, OutputTokens: 5},
		&domain.ModelResponse{Text: "Second reply.", InputTokens: 10, OutputTokens: 5},
	)
	svc, _ := newService(mock, memory.NewUsageRepo())
	ctx := context.Background()

	out, _ := svc.StartSession(ctx, assistant.StartSessionInput{Title: "campaign"})

	if _, err := svc.SendMessage(ctx, assistant.SendMessageInput{
		SessionID: out.Session.ID,
		Text:      "plan the single release push",
	}); err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}
	calls := mock.CallCount()

	reply, err := svc.SendMessage(ctx, assistant.SendMessageInput{
		SessionID: out.Session.ID,
		Text:      "what about the second week",
	})
	if err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}
	if reply.AgentID != "marketing" {
		t.Fatalf("agent = %q, want marketing carried over", reply.AgentID)
	}
	if mock.CallCount() != calls+1 {
		t.Fatalf("second turn made %d calls, want 1 (no re-classification)", mock.CallCount()-calls)
	}
}

func TestSendMessagePinnedAgentSkipsRouting(t *testing.T) {
	mock := llm.NewMock(&domain.ModelResponse{Text: "Clause 4 is standard.", InputTokens: 10, OutputTokens: 5})
	svc, _ := newService(mock, memory.NewUsageRepo())
	ctx := context.Background()

	out, _ := svc.StartSession(ctx, assistant.StartSessionInput{Title: "contract"})

	reply, err := svc.SendMessage(ctx, assistant.SendMessageInput{
		SessionID: out.Session.ID,
		Text:      "explain clause 4",
		AgentID:   "legal",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.AgentID != "legal" {
		t.Fatalf("agent = %q", reply.AgentID)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", mock.CallCount())
	}
}

func TestSendMessageQuotaBecomesReply(t *testing.T) {
	repo := memory.NewUsageRepo()
	day := time.Now().UTC().Format("2006-01-02")
	if err := repo.IncrementUsage(context.Background(), "user-1", day, 10_000, 1); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	svc, store := newService(llm.NewMock(), repo)
	ctx := context.Background()

	out, _ := svc.StartSession(ctx, assistant.StartSessionInput{Title: "chat"})

	reply, err := svc.SendMessage(ctx, assistant.SendMessageInput{
		SessionID: out.Session.ID,
		Text:      "hello",
		AgentID:   "generalist",
	})
	if err != nil {
		t.Fatalf("quota problems must not fail the call: %v", err)
	}
	if !strings.Contains(reply.AgentMessage.Text, "daily token allowance") {
		t.Fatalf("reply = %q", reply.AgentMessage.Text)
	}

	msgs := store.ActiveMessages()
	if len(msgs) != 2 || msgs[1].IsStreaming {
		t.Fatalf("conversation should hold the quota reply, got %v", msgs)
	}
}

func TestSendMessageProviderErrorBecomesReply(t *testing.T) {
	mock := llm.NewMock()
	mock.FailWith(errors.New("rpc error: 503 unavailable"))
	svc, _ := newService(mock, memory.NewUsageRepo())
	ctx := context.Background()

	out, _ := svc.StartSession(ctx, assistant.StartSessionInput{Title: "chat"})

	reply, err := svc.SendMessage(ctx, assistant.SendMessageInput{
		SessionID: out.Session.ID,
		Text:      "hello",
		AgentID:   "generalist",
	})
	if err != nil {
		t.Fatalf("provider errors must not fail the call: %v", err)
	}
	if !strings.Contains(reply.AgentMessage.Text, "couldn't reach the model") {
		t.Fatalf("reply = %q", reply.AgentMessage.Text)
	}
}

func TestSendMessageUnknownSession(t *testing.T) {
	svc, _ := newService(llm.NewMock(), memory.NewUsageRepo())

	_, err := svc.SendMessage(context.Background(), assistant.SendMessageInput{
		SessionID: "no-such-session",
		Text:      "hello",
	})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

type blockingClient struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingClient) GenerateContent(ctx context.Context, req domain.GenerateRequest) (*domain.ModelResponse, error) {
	b.started <- struct{}{}
	<-b.release
	return &domain.ModelResponse{Text: "done", InputTokens: 5, OutputTokens: 5}, nil
}

func (b *blockingClient) GenerateStream(ctx context.Context, req domain.GenerateRequest, onChunk func(string)) (*domain.ModelResponse, error) {
	return b.GenerateContent(ctx, req)
}

func TestSendMessageRejectsConcurrentTurn(t *testing.T) {
	client := &blockingClient{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc, _ := newService(client, memory.NewUsageRepo())
	ctx := context.Background()

	out, _ := svc.StartSession(ctx, assistant.StartSessionInput{Title: "chat"})

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(ctx, assistant.SendMessageInput{
			SessionID: out.Session.ID,
			Text:      "slow question",
			AgentID:   "generalist",
		})
		firstDone <- err
	}()

	<-client.started

	_, err := svc.SendMessage(ctx, assistant.SendMessageInput{
		SessionID: out.Session.ID,
		Text:      "impatient question",
		AgentID:   "generalist",
	})
	if !errors.Is(err, assistant.ErrTurnInProgress) {
		t.Fatalf("want ErrTurnInProgress, got %v", err)
	}

	close(client.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first turn: %v", err)
	}
}

// firstCallGate blocks its first provider call until released; every
// later call answers immediately.
type firstCallGate struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (g *firstCallGate) GenerateContent(ctx context.Context, req domain.GenerateRequest) (*domain.ModelResponse, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		close(g.started)
		<-g.release
		return &domain.ModelResponse{Text: "slow reply", InputTokens: 5, OutputTokens: 5}, nil
	}
	return &domain.ModelResponse{Text: "fast reply", InputTokens: 5, OutputTokens: 5}, nil
}

func (g *firstCallGate) GenerateStream(ctx context.Context, req domain.GenerateRequest, onChunk func(string)) (*domain.ModelResponse, error) {
	resp, err := g.GenerateContent(ctx, req)
	if err == nil && onChunk != nil {
		onChunk(resp.Text)
	}
	return resp, err
}

func TestConcurrentTurnsOnSeparateSessions(t *testing.T) {
	gate := &firstCallGate{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc, store := newService(gate, memory.NewUsageRepo())
	ctx := context.Background()

	first, _ := svc.StartSession(ctx, assistant.StartSessionInput{Title: "first"})
	second, _ := svc.StartSession(ctx, assistant.StartSessionInput{Title: "second"})

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(ctx, assistant.SendMessageInput{
			SessionID: first.Session.ID,
			Text:      "slow question",
			AgentID:   "generalist",
		})
		firstDone <- err
	}()

	<-gate.started

	// A turn on an unrelated session proceeds while the first is still
	// generating.
	out, err := svc.SendMessage(ctx, assistant.SendMessageInput{
		SessionID: second.Session.ID,
		Text:      "quick question",
		AgentID:   "generalist",
	})
	if err != nil {
		t.Fatalf("second session turn: %v", err)
	}
	if out.AgentMessage.Text != "fast reply" {
		t.Fatalf("second session reply = %q", out.AgentMessage.Text)
	}

	close(gate.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first session turn: %v", err)
	}

	firstMsgs, err := store.Messages(first.Session.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(firstMsgs) != 2 {
		t.Fatalf("first session has %d messages, want 2", len(firstMsgs))
	}
	if firstMsgs[1].Text != "slow reply" || firstMsgs[1].IsStreaming {
		t.Fatalf("first session reply = %+v", firstMsgs[1])
	}

	secondMsgs, err := store.Messages(second.Session.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(secondMsgs) != 2 || secondMsgs[1].Text != "fast reply" {
		t.Fatalf("second session messages = %+v", secondMsgs)
	}
}

func TestClearHistoryAndQuotaStatus(t *testing.T) {
	mock := llm.NewMock(&domain.ModelResponse{Text: "hi", InputTokens: 100, OutputTokens: 50})
	svc, store := newService(mock, memory.NewUsageRepo())
	ctx := context.Background()

	out, _ := svc.StartSession(ctx, assistant.StartSessionInput{Title: "chat"})
	if _, err := svc.SendMessage(ctx, assistant.SendMessageInput{
		SessionID: out.Session.ID,
		Text:      "hello",
		AgentID:   "generalist",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	used, limit, tier := svc.QuotaStatus(ctx)
	if used != 150 || limit != 10_000 || tier != domain.TierFree {
		t.Fatalf("quota status = %d/%d %s", used, limit, tier)
	}

	if err := svc.ClearHistory(ctx, out.Session.ID); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if msgs := store.ActiveMessages(); len(msgs) != 0 {
		t.Fatalf("history not cleared: %v", msgs)
	}
}
