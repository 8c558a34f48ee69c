package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/backstage-ai/backstage-agent/internal/domain"
)

// Store implements domain.SessionRepository and domain.UsageRepository
// on Firestore. A session document embeds its full message list, so
// UpdateSession is a single Set and a lost write is repaired by the
// next snapshot.
type Store struct {
	client *firestore.Client
}

func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection("sessions")
}

func (s *Store) sessionDocRef(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

func (s *Store) usageDocRef(userID domain.UserID, day string) *firestore.DocumentRef {
	return s.client.Collection("usage").Doc(string(userID) + "_" + day)
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type sessionDoc struct {
	UserID    string       `firestore:"user_id"`
	Title     string       `firestore:"title"`
	AgentIDs  []string     `firestore:"agent_ids"`
	Messages  []messageDoc `firestore:"messages"`
	CreatedAt time.Time    `firestore:"created_at"`
	UpdatedAt time.Time    `firestore:"updated_at"`
}

type messageDoc struct {
	ID        string    `firestore:"id"`
	Role      string    `firestore:"role"`
	Text      string    `firestore:"text"`
	CreatedAt time.Time `firestore:"created_at"`
}

func toSessionDoc(session *domain.Session) sessionDoc {
	doc := sessionDoc{
		UserID:    string(session.UserID),
		Title:     session.Title,
		AgentIDs:  session.AgentIDs,
		Messages:  make([]messageDoc, 0, len(session.Messages)),
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
	for _, m := range session.Messages {
		doc.Messages = append(doc.Messages, messageDoc{
			ID:        string(m.ID),
			Role:      string(m.Role),
			Text:      m.Text,
			CreatedAt: m.Timestamp,
		})
	}
	return doc
}

func fromSessionDoc(id domain.SessionID, doc sessionDoc) *domain.Session {
	session := &domain.Session{
		ID:        id,
		UserID:    domain.UserID(doc.UserID),
		Title:     doc.Title,
		AgentIDs:  doc.AgentIDs,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, m := range doc.Messages {
		session.Messages = append(session.Messages, &domain.Message{
			ID:        domain.MessageID(m.ID),
			SessionID: id,
			Role:      domain.Role(m.Role),
			Text:      m.Text,
			Timestamp: m.CreatedAt,
		})
	}
	return session
}

// ─────────────────────────────────────────
// SessionRepository implementation
// ─────────────────────────────────────────

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.sessionDocRef(session.ID).Set(ctx, toSessionDoc(session))
	if err != nil {
		return fmt.Errorf("firestore UpdateSession: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id domain.SessionID) error {
	_, err := s.sessionDocRef(id).Delete(ctx)
	if err != nil {
		return fmt.Errorf("firestore DeleteSession: %w", err)
	}
	return nil
}

func (s *Store) SessionsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Session, error) {
	iter := s.sessionsCol().Where("user_id", "==", string(userID)).Documents(ctx)
	defer iter.Stop()

	var out []*domain.Session
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore SessionsForUser: %w", err)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore SessionsForUser decode: %w", err)
		}
		out = append(out, fromSessionDoc(domain.SessionID(snap.Ref.ID), doc))
	}
	return out, nil
}

// ─────────────────────────────────────────
// UsageRepository implementation
// ─────────────────────────────────────────

// IncrementUsage updates the day's counters atomically, creating the
// document on the first call of the day. The update-then-create order
// keeps the common path a single write.
func (s *Store) IncrementUsage(ctx context.Context, userID domain.UserID, day string, tokens, requests int64) error {
	ref := s.usageDocRef(userID, day)

	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "tokens_used", Value: firestore.Increment(tokens)},
		{Path: "request_count", Value: firestore.Increment(requests)},
	})
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore IncrementUsage: %w", err)
	}

	_, err = ref.Create(ctx, map[string]any{
		"user_id":       string(userID),
		"day":           day,
		"tokens_used":   tokens,
		"request_count": requests,
	})
	if err != nil {
		// A concurrent first call may have created it; retry the
		// increment once.
		if status.Code(err) == codes.AlreadyExists {
			_, err = ref.Update(ctx, []firestore.Update{
				{Path: "tokens_used", Value: firestore.Increment(tokens)},
				{Path: "request_count", Value: firestore.Increment(requests)},
			})
		}
		if err != nil {
			return fmt.Errorf("firestore IncrementUsage create: %w", err)
		}
	}
	return nil
}

func (s *Store) UsageFor(ctx context.Context, userID domain.UserID, day string) (*domain.UsageRecord, error) {
	snap, err := s.usageDocRef(userID, day).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrUsageNotFound
		}
		return nil, fmt.Errorf("firestore UsageFor: %w", err)
	}

	var doc struct {
		TokensUsed   int64 `firestore:"tokens_used"`
		RequestCount int64 `firestore:"request_count"`
	}
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore UsageFor decode: %w", err)
	}

	return &domain.UsageRecord{
		UserID:       userID,
		Day:          day,
		TokensUsed:   doc.TokensUsed,
		RequestCount: doc.RequestCount,
	}, nil
}
