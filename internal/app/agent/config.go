// Package agent defines the department agents and the execution
// engine that runs one conversational turn against the model,
// dispatching tool calls until the model produces a final answer.
package agent

import (
	"strings"

	"github.com/backstage-ai/backstage-agent/internal/app/tools"
	"github.com/backstage-ai/backstage-agent/internal/domain"
)

// Config describes one agent: its identity, the system prompt that
// shapes it, and the tools it may call. Funcs carries the executable
// side of Tools and is never loaded from files.
type Config struct {
	ID           string          `yaml:"id"`
	Name         string          `yaml:"name"`
	Description  string          `yaml:"description"`
	Category     domain.Category `yaml:"category"`
	SystemPrompt string          `yaml:"system_prompt"`

	// Model overrides the engine default when set.
	Model string `yaml:"model,omitempty"`

	// Triggers are example phrasings the router shows the classifier.
	Triggers []string `yaml:"triggers,omitempty"`

	Tools []domain.ToolDeclaration `yaml:"tools,omitempty"`
	Funcs map[string]tools.Func    `yaml:"-"`
}

// Validate reports the first structural problem with the config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return domain.ErrInvalidArgument
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return domain.ErrInvalidArgument
	}
	switch c.Category {
	case domain.CategoryManager, domain.CategoryDepartment, domain.CategorySpecialist:
	default:
		return domain.ErrInvalidArgument
	}
	return nil
}
