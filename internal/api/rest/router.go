package rest

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caseloop/caseloop/internal/api/rest/handlers"
	customMiddleware "github.com/caseloop/caseloop/internal/api/rest/middleware"
	"github.com/caseloop/caseloop/internal/websocket"
	"github.com/caseloop/caseloop/pkg/auth"
	"github.com/caseloop/caseloop/pkg/logger"
	"github.com/caseloop/caseloop/pkg/metrics"
)

// Router holds the HTTP router and dependencies
type Router struct {
	router     *chi.Mux
	logger     *logger.Logger
	handlers   *handlers.Handlers
	wsHandler  *websocket.Handler
	jwtManager *auth.JWTManager
	metrics    *metrics.Metrics
}

// NewRouter creates a new HTTP router
func NewRouter(log *logger.Logger, h *handlers.Handlers, ws *websocket.Handler, jwtManager *auth.JWTManager, m *metrics.Metrics) *Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Use(customMiddleware.Metrics(m))

	r.Use(customMiddleware.SecurityHeaders())
	r.Use(customMiddleware.RequestSizeLimit(customMiddleware.GetMaxRequestSize()))

	// CORS - Configure allowed origins from environment
	allowedOrigins := []string{"http://localhost:3000"} // Default for development
	if originsEnv := os.Getenv("ALLOWED_ORIGINS"); originsEnv != "" {
		allowedOrigins = strings.Split(originsEnv, ",")
		for i := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
		}
	}

	// Never allow "*" with credentials enabled
	allowCredentials := true
	for _, origin := range allowedOrigins {
		if origin == "*" {
			log.Warn("CORS: Wildcard origin '*' detected with credentials enabled. Disabling credentials for security.")
			allowCredentials = false
			break
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	}))

	return &Router{
		router:     r,
		logger:     log,
		handlers:   h,
		wsHandler:  ws,
		jwtManager: jwtManager,
		metrics:    m,
	}
}

// SetupRoutes configures all API routes
func (r *Router) SetupRoutes() {
	// Prometheus metrics endpoint (no auth required)
	r.router.Handle("/metrics", promhttp.Handler())

	// Health endpoints (no auth required)
	r.router.Get("/health", r.handlers.Health.Health)
	r.router.Get("/ready", r.handlers.Health.Ready)

	// API v1
	r.router.Route("/api/v1", func(router chi.Router) {
		// Protected routes (require authentication)
		router.Group(func(router chi.Router) {
			router.Use(customMiddleware.JWTAuth(r.jwtManager, r.logger))

			// 100 requests per second per user, burst of 200
			router.Use(customMiddleware.RateLimitWithConfig(100, 200, r.logger))

			// Action catalog, preview and execution
			router.Route("/actions", func(router chi.Router) {
				router.Get("/", r.handlers.Actions.List)
				router.Post("/{id}/preview", r.handlers.Actions.Preview)
				router.Post("/{id}/execute", r.handlers.Actions.Execute)
			})

			// Action record history and undo
			router.Route("/action-records", func(router chi.Router) {
				router.Get("/", r.handlers.Records.History)
				router.Get("/{id}/undo-state", r.handlers.Records.UndoState)
				router.Post("/{id}/undo", r.handlers.Records.Undo)
			})

			// Streaming agent conversations
			router.Route("/agent", func(router chi.Router) {
				router.Post("/chat", r.handlers.Chat.Chat)
			})

			// WebSocket activity feed (only if configured)
			if r.wsHandler != nil {
				router.Get("/ws", r.wsHandler.HandleWebSocket)
				router.With(customMiddleware.RequireRole("admin", r.logger)).Get("/ws/stats", r.wsHandler.HandleStats)
			}
		})
	})
}

// Handler returns the http.Handler
func (r *Router) Handler() http.Handler {
	return r.router
}
