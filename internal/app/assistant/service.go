// Package assistant is the public surface of the orchestration layer:
// session lifecycle, one-turn execution with routing, and quota
// status. Transport adapters talk to this and nothing below it.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/backstage-ai/backstage-agent/internal/app/agent"
	"github.com/backstage-ai/backstage-agent/internal/app/router"
	"github.com/backstage-ai/backstage-agent/internal/app/session"
	"github.com/backstage-ai/backstage-agent/internal/app/usage"
	"github.com/backstage-ai/backstage-agent/internal/domain"
	"github.com/backstage-ai/backstage-agent/internal/observability"
)

// ErrTurnInProgress rejects a second concurrent turn on one session.
var ErrTurnInProgress = errors.New("a turn is already running for this session")

type Service struct {
	engine   *agent.Engine
	registry *agent.Registry
	router   *router.Router
	store    *session.Store
	tracker  *usage.Tracker
	userID   domain.UserID

	mu       sync.Mutex
	inflight map[domain.SessionID]bool
}

func NewService(
	engine *agent.Engine,
	registry *agent.Registry,
	rt *router.Router,
	store *session.Store,
	tracker *usage.Tracker,
	userID domain.UserID,
) *Service {
	return &Service{
		engine:   engine,
		registry: registry,
		router:   rt,
		store:    store,
		tracker:  tracker,
		userID:   userID,
		inflight: make(map[domain.SessionID]bool),
	}
}

type StartSessionInput struct {
	Title    string
	AgentIDs []string
}

type StartSessionOutput struct {
	Session *domain.Session
}

func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (*StartSessionOutput, error) {
	log := observability.LoggerFromContext(ctx).With("user_id", s.userID)
	log.Info("starting new session", "title", in.Title)

	sess := s.store.CreateSession(ctx, in.Title, in.AgentIDs)

	log.Info("session started", "session_id", sess.ID)
	return &StartSessionOutput{Session: sess}, nil
}

type SendMessageInput struct {
	SessionID domain.SessionID
	Text      string

	// AgentID pins the turn to one agent. Empty means reuse the
	// session's routed department, routing first when there is none.
	AgentID string
}

type SendMessageOutput struct {
	UserMessage  *domain.Message
	AgentMessage *domain.Message
	AgentID      string
}

// SendMessage runs one conversational turn. Model and quota problems
// do not fail the call: they become the agent message's text, so the
// conversation always gets exactly one reply per user message.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageOutput, error) {
	sess, err := s.store.Session(in.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.acquire(in.SessionID); err != nil {
		return nil, err
	}
	defer s.release(in.SessionID)

	log := observability.LoggerFromContext(ctx).With(
		"session_id", in.SessionID,
		"user_id", s.userID,
	)

	agentID := in.AgentID
	if agentID == "" && len(sess.AgentIDs) > 0 {
		agentID = sess.AgentIDs[0]
	}
	if agentID == "" {
		agentID = s.router.Route(ctx, in.Text)
		s.store.ConsumeStagedQuery()
		if err := s.store.AssignAgent(ctx, in.SessionID, agentID); err != nil {
			return nil, err
		}
	}
	cfg := s.registry.Get(agentID)
	if cfg == nil {
		log.Warn("unknown agent requested, using fallback", "agent", agentID)
		agentID = router.FallbackAgentID
		cfg = s.registry.Get(agentID)
		if cfg == nil {
			return nil, fmt.Errorf("no fallback agent registered")
		}
	}

	// History excludes the message being sent; the engine gets the
	// input separately.
	history := sess.Messages

	userMsg, err := s.store.AddMessage(ctx, in.SessionID, domain.RoleUser, in.Text, false)
	if err != nil {
		return nil, err
	}

	placeholder, err := s.store.AddMessage(ctx, in.SessionID, domain.RoleModel, "", true)
	if err != nil {
		return nil, err
	}

	turn := agent.TurnContext{
		SessionID: in.SessionID,
		UserID:    s.userID,
		History:   history,
	}

	reply, execErr := s.engine.ExecuteStream(ctx, cfg, in.Text, turn, func(chunk string) {
		if err := s.store.UpdateMessage(ctx, in.SessionID, placeholder.ID, session.MessagePatch{AppendText: chunk}); err != nil {
			log.Error("streaming append failed", "message_id", placeholder.ID, "error", err)
		}
	})
	if execErr != nil {
		log.Error("turn failed", "agent", agentID, "error", execErr)
		reply = userFacingText(execErr)
	}

	done := false
	if err := s.store.UpdateMessage(ctx, in.SessionID, placeholder.ID, session.MessagePatch{
		SetText:     &reply,
		IsStreaming: &done,
	}); err != nil {
		return nil, err
	}

	final := *placeholder
	final.Text = reply
	final.IsStreaming = false

	return &SendMessageOutput{
		UserMessage:  userMsg,
		AgentMessage: &final,
		AgentID:      agentID,
	}, nil
}

// Session returns one session with its messages.
func (s *Service) Session(id domain.SessionID) (*domain.Session, error) {
	return s.store.Session(id)
}

// Sessions lists the user's sessions in creation order.
func (s *Service) Sessions() []*domain.Session {
	return s.store.Sessions()
}

// ClearHistory wipes a session's messages.
func (s *Service) ClearHistory(ctx context.Context, id domain.SessionID) error {
	return s.store.ClearHistory(ctx, id)
}

// DeleteSession removes a session entirely.
func (s *Service) DeleteSession(ctx context.Context, id domain.SessionID) error {
	return s.store.DeleteSession(ctx, id)
}

// QuotaStatus reports today's token consumption against the tier
// limit.
func (s *Service) QuotaStatus(ctx context.Context) (used, limit int64, tier domain.Tier) {
	return s.tracker.Status(ctx, s.userID)
}

func (s *Service) acquire(id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return ErrTurnInProgress
	}
	s.inflight[id] = true
	return nil
}

func (s *Service) release(id domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// userFacingText maps an execution error onto the single message shown
// in the conversation.
func userFacingText(err error) string {
	var quotaErr *domain.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		return fmt.Sprintf("You've used your daily token allowance (%d of %d, %s tier). %s",
			quotaErr.Used, quotaErr.Limit, quotaErr.Tier, quotaErr.UpgradeHint)
	case errors.Is(err, domain.ErrResourceExhausted):
		return "The model is over capacity right now. Please try again in a moment."
	case errors.Is(err, domain.ErrSafetyViolation):
		return "I can't help with that request. Try rephrasing it."
	case errors.Is(err, domain.ErrNetwork):
		return "I couldn't reach the model service. Check your connection and try again."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "That request was cancelled before it finished."
	default:
		return "Something went wrong while generating a reply. Please try again."
	}
}
