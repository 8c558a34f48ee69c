package domain

// Message is one entry in a session's timeline (user or model).
// Immutable once persisted, except for in-place text append while a
// model reply is still streaming.
type Message struct {
	ID        MessageID
	SessionID SessionID
	Role      Role
	Text      string
	Timestamp Timestamp

	IsStreaming bool
}

// Session is a conversation between a user and one or more agents.
// Sessions are peers, never nested; at most one session is active per
// store at a time.
type Session struct {
	ID       SessionID
	UserID   UserID
	Title    string
	AgentIDs []string
	Messages []*Message

	CreatedAt Timestamp
	UpdatedAt Timestamp
}

// Clone returns a deep copy. Persistence snapshots use it so an async
// write never observes a message list mutated after the snapshot.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.AgentIDs = append([]string(nil), s.AgentIDs...)
	out.Messages = make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		mc := *m
		out.Messages[i] = &mc
	}
	return &out
}
