package tools

import (
	"context"
	"sync"
	"time"

	"github.com/backstage-ai/backstage-agent/internal/domain"
)

// CurrentTime reports the server's current UTC time. Wired to the
// generalist agent so date questions do not hit the model's cutoff.
func CurrentTime(now func() time.Time) Func {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, args map[string]any) (Result, error) {
		t := now().UTC()
		return Ok(map[string]any{
			"iso":     t.Format(time.RFC3339),
			"weekday": t.Weekday().String(),
		}), nil
	}
}

// CurrentTimeDeclaration describes CurrentTime to the model.
func CurrentTimeDeclaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{
		Name:        "current_time",
		Description: "Returns the current date and time in UTC.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

// Scratchpad is a per-process note store agents can write to and read
// back within a conversation.
type Scratchpad struct {
	mu    sync.Mutex
	notes []string
}

func NewScratchpad() *Scratchpad {
	return &Scratchpad{}
}

// Save appends a note. Expects args["text"].
func (s *Scratchpad) Save(ctx context.Context, args map[string]any) (Result, error) {
	text, ok := args["text"].(string)
	if !ok || text == "" {
		return Fail("save_note requires a non-empty 'text' argument"), nil
	}

	s.mu.Lock()
	s.notes = append(s.notes, text)
	count := len(s.notes)
	s.mu.Unlock()

	return Ok(map[string]any{"saved": true, "count": count}), nil
}

// List returns all notes saved so far.
func (s *Scratchpad) List(ctx context.Context, args map[string]any) (Result, error) {
	s.mu.Lock()
	notes := append([]string(nil), s.notes...)
	s.mu.Unlock()

	return Ok(map[string]any{"notes": notes}), nil
}

// ScratchpadDeclarations describes the scratchpad tools to the model.
func ScratchpadDeclarations() []domain.ToolDeclaration {
	return []domain.ToolDeclaration{
		{
			Name:        "save_note",
			Description: "Saves a short note for later reference in this conversation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "The note to save.",
					},
				},
				"required": []string{"text"},
			},
		},
		{
			Name:        "list_notes",
			Description: "Lists the notes saved in this conversation.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}
