package agent

import (
	"time"

	"github.com/backstage-ai/backstage-agent/internal/app/tools"
	"github.com/backstage-ai/backstage-agent/internal/domain"
)

// DefaultRegistry returns the built-in agent set: the generalist
// manager plus the department agents queries get routed to.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	pad := tools.NewScratchpad()
	generalistTools := append(
		[]domain.ToolDeclaration{tools.CurrentTimeDeclaration()},
		tools.ScratchpadDeclarations()...,
	)

	for _, cfg := range []*Config{
		{
			ID:          "generalist",
			Name:        "Generalist",
			Description: "General assistance, complex reasoning, fallback when no department fits.",
			Category:    domain.CategoryManager,
			SystemPrompt: "You are the generalist assistant for a creative agency. " +
				"Answer directly and concisely. When a question belongs to a " +
				"specific department, answer what you can and say which " +
				"department handles the rest.",
			Tools: generalistTools,
			Funcs: map[string]tools.Func{
				"current_time": tools.CurrentTime(time.Now),
				"save_note":    pad.Save,
				"list_notes":   pad.List,
			},
		},
		{
			ID:          "legal",
			Name:        "Legal Department",
			Description: "Contracts, licensing, rights clearances and compliance questions.",
			Category:    domain.CategoryDepartment,
			SystemPrompt: "You are the legal department assistant. Explain contract " +
				"terms, licensing models and rights questions in plain language. " +
				"You give general guidance, not legal advice; say so when the " +
				"stakes warrant a lawyer.",
			Triggers: []string{
				"review this contract clause",
				"who owns the master recording rights",
				"do I need a sync license",
			},
		},
		{
			ID:          "music",
			Name:        "Music Department",
			Description: "Songwriting, production, release metadata and catalog questions.",
			Category:    domain.CategoryDepartment,
			SystemPrompt: "You are the music department assistant. Help with " +
				"composition, arrangement, production workflow and release " +
				"metadata. Be concrete: name keys, tempos, plugin categories " +
				"and metadata fields rather than generalities.",
			Triggers: []string{
				"suggest a chord progression for this hook",
				"how should I tag this release's metadata",
				"mixing advice for a muddy low end",
			},
		},
		{
			ID:          "video",
			Name:        "Video Department",
			Description: "Music videos, motion graphics, animation and visual content production.",
			Category:    domain.CategoryDepartment,
			SystemPrompt: "You are the video department assistant. Help plan shoots, " +
				"storyboards, motion graphics and edit workflows. Think in " +
				"shots, scenes and deliverable specs.",
			Triggers: []string{
				"storyboard a 30 second teaser",
				"what aspect ratio for a vertical cut",
				"plan a lyric video with animated text",
			},
		},
		{
			ID:          "marketing",
			Name:        "Marketing Department",
			Description: "Campaign planning, audience targeting, social strategy and promotion.",
			Category:    domain.CategoryDepartment,
			SystemPrompt: "You are the marketing department assistant. Build campaign " +
				"plans with channels, timelines and measurable goals. Prefer " +
				"specific post ideas over abstract strategy.",
			Triggers: []string{
				"plan the single release campaign",
				"which platforms for this audience",
				"write three teaser post ideas",
			},
		},
		{
			ID:          "brand",
			Name:        "Brand Department",
			Description: "Artist identity, visual language, naming and brand consistency.",
			Category:    domain.CategoryDepartment,
			SystemPrompt: "You are the brand department assistant. Help define and " +
				"keep a coherent artist identity: voice, palette, typography " +
				"and how it shows up across surfaces.",
			Triggers: []string{
				"refresh the artist's visual identity",
				"does this cover art fit the brand",
				"name ideas for the new side project",
			},
		},
	} {
		// Built-ins are static and validated by construction.
		if err := r.Register(cfg); err != nil {
			panic(err)
		}
	}

	return r
}
