package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/realtime-relay/internal/middleware"
	"github.com/capitalize-ai/realtime-relay/pkg/logger"
)

// RouterConfig wires the HTTP API.
type RouterConfig struct {
	Sessions          Sessions
	Models            ModelLister
	NATS              ConnectionChecker
	Logger            *logger.Logger
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string
}

// NewRouter builds the relay's HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	healthHandler := NewHealthHandler(map[string]ConnectionChecker{"nats": cfg.NATS})
	sessionHandler := NewSessionHandler(cfg.Sessions, cfg.Logger)
	streamHandler := NewStreamHandler(cfg.Sessions, cfg.Logger)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins...))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		if cfg.Models != nil {
			r.Get("/models", NewModelsHandler(cfg.Models, cfg.Logger).List)
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.List)
			r.With(middleware.RequireScope(middleware.ScopeRealtimeWrite)).Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Get("/events", sessionHandler.Events)
				r.Get("/stream", streamHandler.Stream)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireScope(middleware.ScopeRealtimeWrite))
					r.Delete("/", sessionHandler.Close)
					r.Post("/events", sessionHandler.SendEvent)
				})
			})
		})
	})

	return r
}
