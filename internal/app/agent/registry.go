package agent

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/backstage-ai/backstage-agent/internal/domain"
)

// Registry maps agent IDs to their configs. Safe for concurrent
// reads; registration happens during startup.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Config
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Config)}
}

// Register adds or replaces an agent by ID.
func (r *Registry) Register(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("agent %q: invalid config: %w", cfg.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[cfg.ID] = cfg
	return nil
}

// Get returns the agent with the given ID, or nil.
func (r *Registry) Get(id string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// IDs returns all registered agent IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Departments returns the configs of department-category agents,
// sorted by ID. The router classifies among these.
func (r *Registry) Departments() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Config
	for _, cfg := range r.agents {
		if cfg.Category == domain.CategoryDepartment {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Capabilities renders a one-agent-per-line summary for the routing
// prompt: id, description and trigger examples.
func (r *Registry) Capabilities() string {
	var b strings.Builder
	for _, cfg := range r.Departments() {
		fmt.Fprintf(&b, "- %s: %s", cfg.ID, cfg.Description)
		if len(cfg.Triggers) > 0 {
			fmt.Fprintf(&b, " (e.g. %s)", strings.Join(cfg.Triggers, "; "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// fileDefinitions is the shape of an agents YAML file.
type fileDefinitions struct {
	Agents []*Config `yaml:"agents"`
}

// LoadFile registers additional agents from a YAML definitions file.
// File-defined agents have no Funcs; any declared tools resolve to an
// unknown-tool result at call time unless wired by the caller.
func (r *Registry) LoadFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read agent definitions: %w", err)
	}

	var defs fileDefinitions
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return 0, fmt.Errorf("parse agent definitions %s: %w", path, err)
	}

	for _, cfg := range defs.Agents {
		if err := r.Register(cfg); err != nil {
			return 0, err
		}
	}
	return len(defs.Agents), nil
}
