// Package session holds a user's conversations in memory and mirrors
// every change to durable storage in the background. Reads and writes
// go through the in-memory state; persistence is best-effort and never
// blocks or rolls back a mutation.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/backstage-ai/backstage-agent/internal/domain"
	"github.com/backstage-ai/backstage-agent/internal/observability"
)

const persistTimeout = 5 * time.Second

// MessagePatch is a partial update to an existing message. AppendText
// is how streaming model output grows a placeholder message.
type MessagePatch struct {
	AppendText  string
	SetText     *string
	IsStreaming *bool
}

// Store owns one user's sessions. Mutations name their session
// explicitly; the active session is presentation state that decides
// which history is visible, so switching sessions swaps the entire
// visible list at once without affecting in-flight turns elsewhere.
type Store struct {
	mu   sync.Mutex
	repo domain.SessionRepository

	userID   domain.UserID
	sessions map[domain.SessionID]*domain.Session
	order    []domain.SessionID
	activeID domain.SessionID

	// Routing state: the department the next turn executes on, and
	// the query staged for it.
	activeAgent string
	stagedQuery string

	// tails chains background persists per session so snapshots of
	// one session reach storage in mutation order.
	tails   map[domain.SessionID]chan struct{}
	persist sync.WaitGroup
	now     func() time.Time
}

func NewStore(repo domain.SessionRepository, userID domain.UserID) *Store {
	return &Store{
		repo:     repo,
		userID:   userID,
		sessions: make(map[domain.SessionID]*domain.Session),
		tails:    make(map[domain.SessionID]chan struct{}),
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Load hydrates the store from durable storage. Called once at
// startup; sessions are ordered by creation time and none is active
// until the caller picks one.
func (s *Store) Load(ctx context.Context) error {
	sessions, err := s.repo.SessionsForUser(ctx, s.userID)
	if err != nil {
		return err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
		s.order = append(s.order, sess.ID)
	}
	return nil
}

// CreateSession starts a new conversation and makes it active.
func (s *Store) CreateSession(ctx context.Context, title string, agentIDs []string) *domain.Session {
	s.mu.Lock()
	now := s.now()
	sess := &domain.Session{
		ID:        domain.SessionID(ulid.Make().String()),
		UserID:    s.userID,
		Title:     title,
		AgentIDs:  append([]string(nil), agentIDs...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	s.activeID = sess.ID
	snapshot := sess.Clone()
	s.persistLocked(ctx, snapshot)
	s.mu.Unlock()

	return snapshot
}

// SetActiveSession switches the visible conversation.
func (s *Store) SetActiveSession(id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	s.activeID = id
	return nil
}

// ActiveSession returns a snapshot of the active session, or nil.
func (s *Store) ActiveSession() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[s.activeID].Clone()
}

// Session returns a snapshot of one session by ID.
func (s *Store) Session(id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Sessions returns snapshots of every session in creation order.
func (s *Store) Sessions() []*domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Session, 0, len(s.order))
	for _, id := range s.order {
		if sess, ok := s.sessions[id]; ok {
			out = append(out, sess.Clone())
		}
	}
	return out
}

// Messages returns one session's messages.
func (s *Store) Messages(id domain.SessionID) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Clone().Messages, nil
}

// ActiveMessages returns the active session's messages. Empty when no
// session is active.
func (s *Store) ActiveMessages() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[s.activeID]
	if sess == nil {
		return nil
	}
	return sess.Clone().Messages
}

// AddMessage appends a message to the named session and returns it.
func (s *Store) AddMessage(ctx context.Context, id domain.SessionID, role domain.Role, text string, streaming bool) (*domain.Message, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}

	msg := &domain.Message{
		ID:          domain.MessageID(uuid.NewString()),
		SessionID:   sess.ID,
		Role:        role,
		Text:        text,
		Timestamp:   s.now(),
		IsStreaming: streaming,
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = s.now()
	out := *msg
	s.persistLocked(ctx, sess.Clone())
	s.mu.Unlock()

	return &out, nil
}

// UpdateMessage applies a patch to a message in the named session.
func (s *Store) UpdateMessage(ctx context.Context, id domain.SessionID, msgID domain.MessageID, patch MessagePatch) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}

	var target *domain.Message
	for _, m := range sess.Messages {
		if m.ID == msgID {
			target = m
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}

	if patch.SetText != nil {
		target.Text = *patch.SetText
	}
	if patch.AppendText != "" {
		target.Text += patch.AppendText
	}
	if patch.IsStreaming != nil {
		target.IsStreaming = *patch.IsStreaming
	}
	sess.UpdatedAt = s.now()
	s.persistLocked(ctx, sess.Clone())
	s.mu.Unlock()

	return nil
}

// ClearHistory removes every message from the named session. The
// empty list is persisted like any other state.
func (s *Store) ClearHistory(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	sess.Messages = nil
	sess.UpdatedAt = s.now()
	s.persistLocked(ctx, sess.Clone())
	s.mu.Unlock()

	return nil
}

// AssignAgent records the department that handles the named session's
// turns. Already-assigned agents are not duplicated.
func (s *Store) AssignAgent(ctx context.Context, id domain.SessionID, agentID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	for _, existing := range sess.AgentIDs {
		if existing == agentID {
			s.mu.Unlock()
			return nil
		}
	}
	sess.AgentIDs = append(sess.AgentIDs, agentID)
	sess.UpdatedAt = s.now()
	s.persistLocked(ctx, sess.Clone())
	s.mu.Unlock()

	return nil
}

// DeleteSession removes a session entirely. Deleting the active
// session leaves no session active.
func (s *Store) DeleteSession(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = ""
	}
	s.mu.Unlock()

	if err := s.repo.DeleteSession(ctx, id); err != nil {
		observability.LoggerFromContext(ctx).Error("session delete failed",
			"session_id", id,
			"error", err,
		)
	}
	return nil
}

// SetActiveAgent records which department handles the next turn.
func (s *Store) SetActiveAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeAgent = agentID
}

// ActiveAgent returns the routed department, or "" before any routing.
func (s *Store) ActiveAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeAgent
}

// StageQuery parks a query for the department it was routed to.
func (s *Store) StageQuery(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stagedQuery = query
}

// ConsumeStagedQuery returns and clears the staged query.
func (s *Store) ConsumeStagedQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.stagedQuery
	s.stagedQuery = ""
	return q
}

// Flush blocks until every pending background persist finished.
func (s *Store) Flush() {
	s.persist.Wait()
}

// persistLocked mirrors the snapshot to durable storage without
// blocking the caller. Persists for one session are chained behind
// each other while the store lock is held, so full-list snapshots
// reach storage in mutation order and a stale snapshot can never
// overwrite a newer one. Callers must hold s.mu.
func (s *Store) persistLocked(ctx context.Context, snapshot *domain.Session) {
	log := observability.LoggerFromContext(ctx)

	prev := s.tails[snapshot.ID]
	done := make(chan struct{})
	s.tails[snapshot.ID] = done

	s.persist.Add(1)
	go func() {
		defer s.persist.Done()
		defer close(done)

		if prev != nil {
			<-prev
		}

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()

		if err := s.repo.UpdateSession(pctx, snapshot); err != nil {
			log.Error("session persist failed",
				"session_id", snapshot.ID,
				"messages", len(snapshot.Messages),
				"error", err,
			)
		}

		s.mu.Lock()
		if s.tails[snapshot.ID] == done {
			delete(s.tails, snapshot.ID)
		}
		s.mu.Unlock()
	}()
}
