package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caseloop/caseloop/internal/actions"
	"github.com/caseloop/caseloop/internal/agent"
	"github.com/caseloop/caseloop/internal/api/rest"
	"github.com/caseloop/caseloop/internal/api/rest/handlers"
	"github.com/caseloop/caseloop/internal/engine"
	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/internal/repository/postgres"
	"github.com/caseloop/caseloop/internal/services"
	"github.com/caseloop/caseloop/internal/websocket"
	"github.com/caseloop/caseloop/internal/workers"
	"github.com/caseloop/caseloop/pkg/auth"
	"github.com/caseloop/caseloop/pkg/config"
	"github.com/caseloop/caseloop/pkg/database"
	"github.com/caseloop/caseloop/pkg/llm"
	"github.com/caseloop/caseloop/pkg/llm/providers/anthropic"
	"github.com/caseloop/caseloop/pkg/llm/providers/openai"
	"github.com/caseloop/caseloop/pkg/logger"
	"github.com/caseloop/caseloop/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	logger.SetDefault(log)
	log.Info("Starting Caseloop API",
		logger.String("version", cfg.App.Version),
		logger.String("environment", cfg.App.Environment),
	)

	// Initialize metrics
	m := metrics.New()

	// Initialize PostgreSQL
	db, err := database.NewPostgresDB(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Initialize Redis
	redis, err := database.NewRedisClient(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redis.Close()

	// Initialize repositories
	recordRepo := postgres.NewActionRecordRepository(db.DB)
	auditRepo := postgres.NewAuditRepository(db.DB)
	caseRepo := postgres.NewCaseRepository(db.DB)
	messageRepo := postgres.NewMessageRepository(db.DB)

	// Initialize WebSocket hub for the activity feed
	hub := websocket.NewHub(redis.Client, log)
	if err := hub.Start(); err != nil {
		return fmt.Errorf("failed to start websocket hub: %w", err)
	}
	defer hub.Stop()

	activityService := services.NewActivityService(hub, auditRepo, log)

	// Build the action catalog
	catalog := actions.NewCatalog(log)
	if err := catalog.Register(actions.NewStatusTransitionAction(caseRepo, auditRepo)); err != nil {
		return fmt.Errorf("failed to register actions: %w", err)
	}

	executor := engine.NewExecutor(catalog, recordRepo, activityService, m, log)

	// Initialize the model provider
	llmClient, err := newLLMClient(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize llm client: %w", err)
	}
	defer llmClient.Close()

	templates, err := llm.GetDefaultTemplates()
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}

	// Initialize agent collaborators
	toolset, err := agent.NewToolset(catalog, []agent.Skill{
		agent.NewCaseSummarySkill(caseRepo, templates),
		agent.NewRecentActivitySkill(auditRepo, templates),
	})
	if err != nil {
		return fmt.Errorf("failed to build agent toolset: %w", err)
	}

	contexts := agent.NewContextLoader(caseRepo, redis.Client, cfg.App.Name, cfg.Agent.CacheTTL, log)
	limiter := services.NewRedisRateLimiter(redis.Client, cfg.RateLimit, m, log)

	agents := &agentProvider{
		cache: agent.NewCache(),
		build: func() *agent.Agent {
			return agent.New(
				agent.Config{
					AgentType:                "case_assistant",
					HistoryLimit:             cfg.Agent.HistoryLimit,
					MaxToolRounds:            cfg.Agent.MaxToolRounds,
					RequirePreviewCategories: cfg.Agent.RequirePreviewCategories,
				},
				llmClient, executor, toolset, contexts, messageRepo, limiter, templates, m, log,
			)
		},
	}

	// Initialize JWT manager
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if cfg.App.Environment == "production" {
			return fmt.Errorf("JWT_SECRET environment variable must be set in production")
		}
		jwtSecret = "default-secret-change-this-in-production"
		log.Warn("JWT_SECRET not set, using default (INSECURE - only for development)")
	}
	jwtManager := auth.NewJWTManager(jwtSecret)

	// Start the undo snapshot cleanup worker
	cleanupWorker := workers.NewUndoCleanupWorker(recordRepo, log, 10*time.Minute)
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	cleanupWorker.Start(workerCtx)

	// Initialize handlers
	h := handlers.NewHandlers(
		log,
		executor,
		agents,
		&handlers.HealthCheckers{
			DB:    db,
			Redis: redis,
		},
		cfg.App.Version,
	)

	// Initialize router
	router := rest.NewRouter(log, h, websocket.NewHandler(hub, log), jwtManager, m)
	router.SetupRoutes()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("API server listening", logger.String("address", addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", logger.String("signal", sig.String()))

		// Stop background workers first
		cleanupWorker.Stop()

		// Give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		log.Info("Server stopped gracefully")
	}

	return nil
}

// newLLMClient selects the model provider from configuration
func newLLMClient(cfg *config.LLMConfig) (llm.Client, error) {
	llmCfg := &llm.Config{
		Provider:     llm.Provider(cfg.Provider),
		APIKey:       cfg.APIKey,
		DefaultModel: cfg.DefaultModel,
		MaxTokens:    cfg.MaxTokens,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
	}

	switch llmCfg.Provider {
	case llm.ProviderAnthropic:
		return anthropic.NewClient(llmCfg)
	case llm.ProviderOpenAI:
		return openai.NewClient(llmCfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// agentProvider hands out per-caller-context agent instances from the cache
type agentProvider struct {
	cache *agent.Cache
	build func() *agent.Agent
}

func (p *agentProvider) AgentFor(actx *models.ActionContext) (*agent.Agent, error) {
	return p.cache.GetOrCreate(agent.KeyFor("case_assistant", actx), func() (*agent.Agent, error) {
		return p.build(), nil
	})
}
