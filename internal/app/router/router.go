// Package router decides which department handles a query. Routing is
// a cheap classification pass: a short keyword table first, then a
// low-thinking model call over the registered departments, and the
// generalist whenever neither produces a usable answer.
package router

import (
	"context"
	"strings"

	"github.com/backstage-ai/backstage-agent/internal/app/agent"
	"github.com/backstage-ai/backstage-agent/internal/app/session"
	"github.com/backstage-ai/backstage-agent/internal/domain"
	"github.com/backstage-ai/backstage-agent/internal/observability"
)

// FallbackAgentID handles everything the classifier cannot place.
const FallbackAgentID = "generalist"

// keywordOverrides route without a model call. Checked in order; the first
// matching keyword wins, before and regardless of classification.
var keywordOverrides = []struct {
	agentID  string
	keywords []string
}{
	{"video", []string{
		"motion graphic", "animation", "animate", "animated",
		"music video", "storyboard", "film", "movie", "footage",
	}},
	{"music", []string{
		"mixing", "mastering", "chord progression", "bpm", "tempo",
	}},
}

// Router classifies queries and records the outcome on the session
// store: the chosen department becomes active and the query is staged
// for it.
type Router struct {
	llm      domain.ModelClient
	registry *agent.Registry
	store    *session.Store
	model    string
}

func New(llm domain.ModelClient, registry *agent.Registry, store *session.Store, model string) *Router {
	return &Router{
		llm:      llm,
		registry: registry,
		store:    store,
		model:    model,
	}
}

// Route returns the department ID for a query. It never fails: any
// classification problem lands on the generalist. The chosen agent is
// flipped active on the store and the query staged before returning.
func (r *Router) Route(ctx context.Context, query string) string {
	target := r.classify(ctx, query)

	r.store.StageQuery(query)
	r.store.SetActiveAgent(target)

	observability.LoggerFromContext(ctx).Info("query routed",
		"agent", target,
	)
	return target
}

func (r *Router) classify(ctx context.Context, query string) string {
	log := observability.LoggerFromContext(ctx)
	lower := strings.ToLower(query)

	for _, ov := range keywordOverrides {
		for _, kw := range ov.keywords {
			if strings.Contains(lower, kw) && r.registry.Get(ov.agentID) != nil {
				log.Debug("keyword override fired",
					"keyword", kw,
					"agent", ov.agentID,
				)
				return ov.agentID
			}
		}
	}

	capabilities := r.registry.Capabilities()
	if capabilities == "" {
		return FallbackAgentID
	}

	noThinking := int32(0)
	req := domain.GenerateRequest{
		Model: r.model,
		System: "You are a query router for a creative agency assistant.\n" +
			"Departments:\n" + capabilities +
			"Reply with exactly one department id from the list above, " +
			"lowercase, nothing else. If none fits, reply: " + FallbackAgentID,
		Contents: []domain.Content{{Role: domain.RoleUser, Text: query}},
		Config: domain.GenerateConfig{
			MaxOutputTokens: 16,
			ThinkingBudget:  &noThinking,
		},
	}

	resp, err := r.llm.GenerateContent(ctx, req)
	if err != nil {
		log.Warn("routing classification failed, using fallback",
			"error", err,
		)
		return FallbackAgentID
	}

	id, _, _ := strings.Cut(strings.TrimSpace(strings.ToLower(resp.Text)), "\n")
	id = strings.TrimSpace(id)

	// The prompt tells the model to answer with the fallback id when
	// nothing fits, so that answer is valid too.
	if id == FallbackAgentID {
		return FallbackAgentID
	}
	if cfg := r.registry.Get(id); cfg != nil && cfg.Category == domain.CategoryDepartment {
		return id
	}
	log.Warn("classifier returned unknown department, using fallback",
		"answer", resp.Text,
	)
	return FallbackAgentID
}
