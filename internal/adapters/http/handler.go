package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/backstage-ai/backstage-agent/internal/app/assistant"
	"github.com/backstage-ai/backstage-agent/internal/domain"
)

type Server struct {
	svc *assistant.Service
}

func NewServer(svc *assistant.Service) http.Handler {
	s := &Server{svc: svc}
	mux := http.NewServeMux()

	// /sessions            → POST: create, GET: list
	mux.HandleFunc("/sessions", s.handleSessions)

	// /sessions/{id}          → GET: session + messages, DELETE: remove
	// /sessions/{id}/messages → POST: run one turn
	// /sessions/{id}/clear    → POST: wipe history
	mux.HandleFunc("/sessions/", s.handleSessionWithID)

	mux.HandleFunc("/quota", s.handleQuota)
	mux.HandleFunc("/healthz", s.handleHealth)

	return chainMiddlewares(mux, withRequestID, withCORS, withLogging)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type createSessionRequest struct {
	Title    string   `json:"title,omitempty"`
	AgentIDs []string `json:"agent_ids,omitempty"`
}

type createSessionResponse struct {
	Session sessionResponse `json:"session"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	AgentIDs  []string  `json:"agent_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Streaming bool      `json:"streaming,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type sendMessageRequest struct {
	Text    string `json:"text"`
	AgentID string `json:"agent_id,omitempty"`
}

type sendMessageResponse struct {
	AgentID      string          `json:"agent_id"`
	UserMessage  messageResponse `json:"user_message"`
	AgentMessage messageResponse `json:"agent_message"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type getSessionResponse struct {
	Session  sessionResponse   `json:"session"`
	Messages []messageResponse `json:"messages"`
}

type quotaResponse struct {
	Tier       string `json:"tier"`
	TokensUsed int64  `json:"tokens_used"`
	DailyLimit int64  `json:"daily_limit"`
}

// ─────────────────────────────────────────────
// Basic routing
// ─────────────────────────────────────────────

// /sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /sessions/{id}, /sessions/{id}/messages or /sessions/{id}/clear
func (s *Server) handleSessionWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if path == "" {
		http.NotFound(w, r)
		return
	}

	parts := strings.Split(path, "/")
	id := domain.SessionID(parts[0])
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetSession(w, r, id)
		case http.MethodDelete:
			s.handleDeleteSession(w, r, id)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 {
		switch {
		case parts[1] == "messages" && r.Method == http.MethodPost:
			s.handleSendMessage(w, r, id)
			return
		case parts[1] == "clear" && r.Method == http.MethodPost:
			s.handleClearHistory(w, r, id)
			return
		case parts[1] == "messages" || parts[1] == "clear":
			methodNotAllowed(w)
			return
		}
	}

	http.NotFound(w, r)
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	out, err := s.svc.StartSession(r.Context(), assistant.StartSessionInput{
		Title:    req.Title,
		AgentIDs: req.AgentIDs,
	})
	if err != nil {
		internalError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		Session: toSessionResponse(out.Session),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.svc.Sessions()
	resp := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	sess, err := s.svc.Session(id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.NotFound(w, r)
			return
		}
		internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, getSessionResponse{
		Session:  toSessionResponse(sess),
		Messages: toMessagesResponse(sess.Messages),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	if err := s.svc.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.NotFound(w, r)
			return
		}
		internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(w, "text is required")
		return
	}

	out, err := s.svc.SendMessage(r.Context(), assistant.SendMessageInput{
		SessionID: id,
		Text:      req.Text,
		AgentID:   req.AgentID,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			http.NotFound(w, r)
		case errors.Is(err, assistant.ErrTurnInProgress):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "a turn is already running for this session",
			})
		default:
			internalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		AgentID:      out.AgentID,
		UserMessage:  toMessageResponse(out.UserMessage),
		AgentMessage: toMessageResponse(out.AgentMessage),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	if err := s.svc.ClearHistory(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.NotFound(w, r)
			return
		}
		internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	used, limit, tier := s.svc.QuotaStatus(r.Context())
	writeJSON(w, http.StatusOK, quotaResponse{
		Tier:       string(tier),
		TokensUsed: used,
		DailyLimit: limit,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─────────────────────────────────────────────
// Response helpers
// ─────────────────────────────────────────────

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:        string(s.ID),
		UserID:    string(s.UserID),
		Title:     s.Title,
		AgentIDs:  s.AgentIDs,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:        string(m.ID),
		SessionID: string(m.SessionID),
		Role:      string(m.Role),
		Text:      m.Text,
		Streaming: m.IsStreaming,
		CreatedAt: m.Timestamp,
	}
}

func toMessagesResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func internalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}
