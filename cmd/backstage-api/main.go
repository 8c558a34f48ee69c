package main

import (
	"context"
	"log"
	"net/http"

	httpadapter "github.com/backstage-ai/backstage-agent/internal/adapters/http"
	"github.com/backstage-ai/backstage-agent/internal/adapters/llm"
	firestorestore "github.com/backstage-ai/backstage-agent/internal/adapters/storage/firestore"
	memstore "github.com/backstage-ai/backstage-agent/internal/adapters/storage/memory"
	sqlitestore "github.com/backstage-ai/backstage-agent/internal/adapters/storage/sqlite"
	"github.com/backstage-ai/backstage-agent/internal/app/agent"
	"github.com/backstage-ai/backstage-agent/internal/app/assistant"
	"github.com/backstage-ai/backstage-agent/internal/app/cache"
	"github.com/backstage-ai/backstage-agent/internal/app/router"
	"github.com/backstage-ai/backstage-agent/internal/app/session"
	"github.com/backstage-ai/backstage-agent/internal/app/usage"
	"github.com/backstage-ai/backstage-agent/internal/config"
	"github.com/backstage-ai/backstage-agent/internal/domain"
	"github.com/backstage-ai/backstage-agent/internal/observability"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()
	logger := observability.Logger()

	// Model client: mock for dev, Gemini otherwise.
	var (
		client domain.ModelClient
		err    error
	)
	if cfg.UseMockLLM {
		logger.Info("using mock model client")
		client = llm.NewMock()
	} else {
		logger.Info("using gemini model client", "mode", cfg.Mode, "model", cfg.ModelName)
		client, err = llm.NewGeminiClient(ctx, cfg)
		if err != nil {
			log.Fatalf("initializing gemini client: %v", err)
		}
	}

	// Storage: one store implements both repository ports.
	var (
		sessionRepo domain.SessionRepository
		usageRepo   domain.UsageRepository
	)
	switch cfg.StorageBackend {
	case "firestore":
		if cfg.GCPProjectID == "" {
			log.Fatal("a GCP project id is required for the firestore storage backend")
		}
		logger.Info("using firestore storage", "project", cfg.GCPProjectID)
		store, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatalf("initializing firestore store: %v", err)
		}
		sessionRepo = store
		usageRepo = store

	case "sqlite":
		logger.Info("using sqlite storage", "path", cfg.SQLitePath)
		store, err := sqlitestore.NewStore(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("initializing sqlite store: %v", err)
		}
		sessionRepo = store
		usageRepo = store

	default:
		logger.Info("using in-memory storage")
		sessionRepo = memstore.NewSessionRepo()
		usageRepo = memstore.NewUsageRepo()
	}

	// Agents: built-ins plus optional file-defined ones.
	registry := agent.DefaultRegistry()
	if cfg.AgentsFile != "" {
		n, err := registry.LoadFile(cfg.AgentsFile)
		if err != nil {
			log.Fatalf("loading agent definitions: %v", err)
		}
		logger.Info("loaded agent definitions", "file", cfg.AgentsFile, "agents", n)
	}

	userID := domain.UserID(cfg.UserID)
	tier := domain.Tier(cfg.Tier)
	tracker := usage.NewTracker(usageRepo, func(domain.UserID) domain.Tier { return tier })

	store := session.NewStore(sessionRepo, userID)
	if err := store.Load(ctx); err != nil {
		logger.Warn("could not hydrate sessions, starting empty", "error", err)
	}

	eng := agent.NewEngine(client, cache.New(), tracker, cfg.ModelName, cfg.ContextTokenBudget)
	rt := router.New(client, registry, store, cfg.RouterModelName)
	svc := assistant.NewService(eng, registry, rt, store, tracker, userID)

	handler := httpadapter.NewServer(svc)

	addr := ":" + cfg.Port
	logger.Info("backstage api listening", "addr", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal(err)
	}
}
