package router_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/backstage-ai/backstage-agent/internal/adapters/llm"
	"github.com/backstage-ai/backstage-agent/internal/adapters/storage/memory"
	"github.com/backstage-ai/backstage-agent/internal/app/agent"
	"github.com/backstage-ai/backstage-agent/internal/app/router"
	"github.com/backstage-ai/backstage-agent/internal/app/session"
	"github.com/backstage-ai/backstage-agent/internal/domain"
)

func newRouter(mock *llm.Mock) (*router.Router, *session.Store) {
	store := session.NewStore(memory.NewSessionRepo(), "user-1")
	return router.New(mock, agent.DefaultRegistry(), store, "test-router-model"), store
}

func TestRouteClassifiesWithModel(t *testing.T) {
	mock := llm.NewMock(&domain.ModelResponse{Text: "marketing"})
	r, store := newRouter(mock)

	got := r.Route(context.Background(), "plan the single release campaign")
	if got != "marketing" {
		t.Fatalf("routed to %q, want marketing", got)
	}
	if store.ActiveAgent() != "marketing" {
		t.Fatalf("active agent = %q", store.ActiveAgent())
	}
	if q := store.ConsumeStagedQuery(); q != "plan the single release campaign" {
		t.Fatalf("staged query = %q", q)
	}
}

func TestRouteKeywordOverrideSkipsModel(t *testing.T) {
	mock := llm.NewMock(&domain.ModelResponse{Text: "marketing"})
	r, _ := newRouter(mock)

	got := r.Route(context.Background(), "I need an animation for the chorus")
	if got != "video" {
		t.Fatalf("routed to %q, want video", got)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("override must not call the model, got %d calls", mock.CallCount())
	}
}

func TestRouteMotionGraphicsGoesToVideo(t *testing.T) {
	r, _ := newRouter(llm.NewMock())

	if got := r.Route(context.Background(), "Motion graphics for the tour intro"); got != "video" {
		t.Fatalf("routed to %q, want video", got)
	}
}

func TestRouteModelAnswerIsNormalized(t *testing.T) {
	mock := llm.NewMock(&domain.ModelResponse{Text: "  Legal\nbecause it mentions contracts"})
	r, _ := newRouter(mock)

	if got := r.Route(context.Background(), "look over this distribution agreement"); got != "legal" {
		t.Fatalf("routed to %q, want legal", got)
	}
}

func TestRouteUnknownAnswerFallsBack(t *testing.T) {
	mock := llm.NewMock(&domain.ModelResponse{Text: "accounting"})
	r, _ := newRouter(mock)

	if got := r.Route(context.Background(), "what is two plus two"); got != router.FallbackAgentID {
		t.Fatalf("routed to %q, want %s", got, router.FallbackAgentID)
	}
}

func TestRouteFallbackAnswerIsAccepted(t *testing.T) {
	mock := llm.NewMock(&domain.ModelResponse{Text: router.FallbackAgentID})
	r, _ := newRouter(mock)

	// The prompt instructs the model to answer with the fallback id when
	// no department fits; that answer must count as a valid
	// classification, not an unknown one.
	if got := r.Route(context.Background(), "what is two plus two"); got != router.FallbackAgentID {
		t.Fatalf("routed to %q, want %s", got, router.FallbackAgentID)
	}
}

func TestRouteClassifierErrorFallsBack(t *testing.T) {
	mock := llm.NewMock()
	mock.FailWith(errors.New("model unavailable"))
	r, store := newRouter(mock)

	got := r.Route(context.Background(), "help me with anything")
	if got != router.FallbackAgentID {
		t.Fatalf("routed to %q, want %s", got, router.FallbackAgentID)
	}
	// The fallback is still recorded as a routing outcome.
	if store.ActiveAgent() != router.FallbackAgentID {
		t.Fatalf("active agent = %q", store.ActiveAgent())
	}
}

func TestRouteClassifierSeesDepartments(t *testing.T) {
	mock := llm.NewMock(&domain.ModelResponse{Text: "music"})
	r, _ := newRouter(mock)

	r.Route(context.Background(), "ideas for the bridge section")

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("model calls = %d, want 1", len(reqs))
	}
	sys := reqs[0].System
	for _, dept := range []string{"legal", "music", "video", "marketing", "brand"} {
		if !strings.Contains(sys, "- "+dept+":") {
			t.Fatalf("routing prompt missing department %q:\n%s", dept, sys)
		}
	}
	if reqs[0].Config.ThinkingBudget == nil || *reqs[0].Config.ThinkingBudget != 0 {
		t.Fatal("router calls should disable thinking")
	}
}
