// Package sqlite implements the storage ports on a local SQLite file
// through GORM. It is the durable option for single-machine installs
// where Firestore is overkill.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/backstage-ai/backstage-agent/internal/domain"
)

type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "backstage.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&sessionRow{}, &usageRow{}); err != nil {
		return nil, fmt.Errorf("migrating sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

type sessionRow struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Title     string
	AgentIDs  string // JSON array
	Messages  string // JSON array, the session's full timeline
	CreatedAt time.Time
	UpdatedAt time.Time
}

type usageRow struct {
	ID           string `gorm:"primaryKey"` // userID_day
	UserID       string `gorm:"index"`
	Day          string
	TokensUsed   int64
	RequestCount int64
}

type messageJSON struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func toRow(session *domain.Session) (*sessionRow, error) {
	agents, err := json.Marshal(session.AgentIDs)
	if err != nil {
		return nil, err
	}

	msgs := make([]messageJSON, 0, len(session.Messages))
	for _, m := range session.Messages {
		msgs = append(msgs, messageJSON{
			ID:        string(m.ID),
			Role:      string(m.Role),
			Text:      m.Text,
			CreatedAt: m.Timestamp,
		})
	}
	rawMsgs, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}

	return &sessionRow{
		ID:        string(session.ID),
		UserID:    string(session.UserID),
		Title:     session.Title,
		AgentIDs:  string(agents),
		Messages:  string(rawMsgs),
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}, nil
}

func fromRow(row *sessionRow) (*domain.Session, error) {
	session := &domain.Session{
		ID:        domain.SessionID(row.ID),
		UserID:    domain.UserID(row.UserID),
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}

	if row.AgentIDs != "" {
		if err := json.Unmarshal([]byte(row.AgentIDs), &session.AgentIDs); err != nil {
			return nil, fmt.Errorf("decoding agent ids for session %s: %w", row.ID, err)
		}
	}

	var msgs []messageJSON
	if row.Messages != "" {
		if err := json.Unmarshal([]byte(row.Messages), &msgs); err != nil {
			return nil, fmt.Errorf("decoding messages for session %s: %w", row.ID, err)
		}
	}
	for _, m := range msgs {
		session.Messages = append(session.Messages, &domain.Message{
			ID:        domain.MessageID(m.ID),
			SessionID: session.ID,
			Role:      domain.Role(m.Role),
			Text:      m.Text,
			Timestamp: m.CreatedAt,
		})
	}
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	row, err := toRow(session)
	if err != nil {
		return fmt.Errorf("sqlite UpdateSession encode: %w", err)
	}

	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("sqlite UpdateSession: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id domain.SessionID) error {
	if err := s.db.WithContext(ctx).Delete(&sessionRow{}, "id = ?", string(id)).Error; err != nil {
		return fmt.Errorf("sqlite DeleteSession: %w", err)
	}
	return nil
}

func (s *Store) SessionsForUser(ctx context.Context, userID domain.UserID) ([]*domain.Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", string(userID)).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite SessionsForUser: %w", err)
	}

	out := make([]*domain.Session, 0, len(rows))
	for i := range rows {
		session, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func usageKey(userID domain.UserID, day string) string {
	return string(userID) + "_" + day
}

// IncrementUsage bumps the day's counters in place and creates the row
// on the first call of a day.
func (s *Store) IncrementUsage(ctx context.Context, userID domain.UserID, day string, tokens, requests int64) error {
	key := usageKey(userID, day)
	db := s.db.WithContext(ctx)

	res := db.Model(&usageRow{}).Where("id = ?", key).Updates(map[string]any{
		"tokens_used":   gorm.Expr("tokens_used + ?", tokens),
		"request_count": gorm.Expr("request_count + ?", requests),
	})
	if res.Error != nil {
		return fmt.Errorf("sqlite IncrementUsage: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	err := db.Create(&usageRow{
		ID:           key,
		UserID:       string(userID),
		Day:          day,
		TokensUsed:   tokens,
		RequestCount: requests,
	}).Error
	if err != nil {
		// Lost the create race; the row exists now, increment it.
		res = db.Model(&usageRow{}).Where("id = ?", key).Updates(map[string]any{
			"tokens_used":   gorm.Expr("tokens_used + ?", tokens),
			"request_count": gorm.Expr("request_count + ?", requests),
		})
		if res.Error != nil || res.RowsAffected == 0 {
			return fmt.Errorf("sqlite IncrementUsage create: %w", err)
		}
	}
	return nil
}

func (s *Store) UsageFor(ctx context.Context, userID domain.UserID, day string) (*domain.UsageRecord, error) {
	var row usageRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", usageKey(userID, day)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUsageNotFound
		}
		return nil, fmt.Errorf("sqlite UsageFor: %w", err)
	}

	return &domain.UsageRecord{
		UserID:       userID,
		Day:          row.Day,
		TokensUsed:   row.TokensUsed,
		RequestCount: row.RequestCount,
	}, nil
}
