package memory

import (
	"context"
	"sync"

	"github.com/backstage-ai/backstage-agent/internal/domain"
)

// SessionRepo is an in-memory implementation of
// domain.SessionRepository. Not durable; for local mode and tests.
type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{
		sessions: make(map[domain.SessionID]*domain.Session),
	}
}

// UpdateSession stores a snapshot of the full session, message list
// included. Upsert semantics: the first write for an ID creates it.
func (r *SessionRepo) UpdateSession(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *SessionRepo) DeleteSession(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

func (r *SessionRepo) SessionsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// Stored returns the persisted snapshot for a session, or nil. Test
// helper; not part of the repository port.
func (r *SessionRepo) Stored(id domain.SessionID) *domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sessions[id].Clone()
}
