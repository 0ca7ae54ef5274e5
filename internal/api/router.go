package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"appsentry/internal/api/handlers"
	apimiddleware "appsentry/internal/api/middleware"
	"appsentry/internal/config"
	"appsentry/internal/infrastructure/cache"
	"appsentry/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	cache    *cache.RedisCache
	logger   *logger.Logger
}

// NewRouter creates a new Router instance. cache may be nil; rate
// limiting is skipped without it.
func NewRouter(cfg config.Config, h *handlers.Handlers, c *cache.RedisCache, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		cache:    c,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Rate limiting
	if r.config.RateLimit.Enabled && r.cache != nil {
		router.Use(apimiddleware.RateLimiter(r.cache, r.config.RateLimit))
	}

	// Public routes
	router.Group(func(pub chi.Router) {
		pub.Get("/health", r.handlers.Health.Check)
		pub.Get("/ready", r.handlers.Health.Ready)

		pub.Get("/api/v1/stats", r.handlers.Stats.Get)
	})

	// API v1 routes (authenticated)
	router.Route("/api/v1", func(api chi.Router) {
		api.Use(apimiddleware.APIKeyAuth(r.config.Auth))

		// Scan endpoints
		api.Route("/scan", func(scan chi.Router) {
			scan.Post("/", r.handlers.Scan.ScanDevice)
			scan.Post("/app", r.handlers.Scan.ScanApp)
		})

		// Baseline endpoints
		api.Route("/baselines", func(baselines chi.Router) {
			baselines.Get("/", r.handlers.Baselines.List)
			baselines.Get("/{package}", r.handlers.Baselines.Get)
			baselines.Delete("/{package}", r.handlers.Baselines.Delete)
		})

		// Incident endpoints
		api.Route("/incidents", func(incidents chi.Router) {
			incidents.Get("/", r.handlers.Incidents.List)
			incidents.Get("/{id}", r.handlers.Incidents.Get)
			incidents.Post("/{id}/status", r.handlers.Incidents.UpdateStatus)
		})

		api.Get("/streaming/stats", r.handlers.Streaming.GetStats)
	})

	// WebSocket streaming endpoint (real-time scan and incident updates)
	router.Get("/ws/events", r.handlers.Streaming.HandleWebSocket)

	return router
}
