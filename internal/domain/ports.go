package domain

import "context"

// Content is one conversational turn sent to the model provider.
type Content struct {
	Role Role
	Text string
}

// GenerateConfig carries generation knobs. ThinkingBudget follows the
// Gemini convention: 0 disables thinking, nil leaves the model default.
type GenerateConfig struct {
	Temperature     *float32
	TopP            *float32
	MaxOutputTokens int32
	ThinkingBudget  *int32
}

// ToolDeclaration describes a callable tool to the model. Parameters is
// a JSON-schema object, passed through to the provider untouched.
type ToolDeclaration struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// FunctionCall is a structured tool invocation requested by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// GenerateRequest is the provider-agnostic request shape. The same
// logical request always serializes identically, which is what the
// response cache fingerprints.
type GenerateRequest struct {
	Model    string
	System   string
	Contents []Content
	Tools    []ToolDeclaration
	Config   GenerateConfig
}

// ModelResponse is what a provider call yields: final text and/or one
// or more tool-call requests, plus token accounting when available.
type ModelResponse struct {
	Text  string
	Calls []FunctionCall

	InputTokens  int
	OutputTokens int
}

// ModelClient is how the application talks to the generative provider.
type ModelClient interface {
	GenerateContent(ctx context.Context, req GenerateRequest) (*ModelResponse, error)

	// GenerateStream behaves like GenerateContent but delivers text
	// incrementally through onChunk before returning the full response.
	GenerateStream(ctx context.Context, req GenerateRequest, onChunk func(text string)) (*ModelResponse, error)
}

// SessionRepository is the narrow durable-storage port. UpdateSession
// always receives the session's entire current message list, never a
// diff, so a failed write cannot leave a partially applied patch.
type SessionRepository interface {
	UpdateSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, id SessionID) error
	SessionsForUser(ctx context.Context, userID UserID) ([]*Session, error)
}

// UsageRecord is one user's consumption on one calendar day (UTC,
// formatted 2006-01-02). TokensUsed only ever grows within a day.
type UsageRecord struct {
	UserID       UserID
	Day          string
	TokensUsed   int64
	RequestCount int64
}

// UsageRepository persists per-user-per-day counters. IncrementUsage
// must attempt an update-in-place first and fall back to creating the
// day's record, so the first call of a day needs no prior read.
type UsageRepository interface {
	IncrementUsage(ctx context.Context, userID UserID, day string, tokens, requests int64) error
	UsageFor(ctx context.Context, userID UserID, day string) (*UsageRecord, error)
}
