package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"vanishing.keys/config"
	"vanishing.keys/internal/secrets"
)

func SetupRouter(svc *secrets.Service, cfg *config.Config) *chi.Mux {
	h := NewHandler(svc)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	cors := DefaultCORSConfig()
	cors.AllowedOrigins = cfg.Server.AllowedOrigins
	r.Use(CORS(cors))

	// Health
	r.Get("/health", h.Health)

	apiLimit, redeemLimit := passthrough, passthrough
	if cfg.RateLimit.Enabled {
		apiLimit = NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute).Middleware
		redeemLimit = NewRateLimiter(cfg.RateLimit.RedeemPerMin, time.Minute).Middleware
	}

	r.Route("/api/secrets", func(r chi.Router) {
		r.With(apiLimit, JSONOnly).Post("/", h.CreateSecret)
		r.With(redeemLimit).Get("/{secretId}", h.RedeemSecret)
		r.With(apiLimit).Delete("/{secretId}", h.DeleteSecret)
	})

	r.NotFound(h.NotFound)

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
