package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aloauto/marketplace/pkg/health"
	"github.com/aloauto/marketplace/pkg/middleware"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
	"github.com/aloauto/marketplace/services/accounts/internal/idempotency"
	"github.com/aloauto/marketplace/services/accounts/internal/service"
)

// RouterConfig carries everything NewRouter wires together.
type RouterConfig struct {
	ServiceName string
	Accounts    *service.AccountService
	Addresses   *service.AddressService
	Tokens      middleware.TokenValidator
	Health      *health.Handler
	// Idempotency is optional; without it Idempotency-Key headers are ignored.
	Idempotency idempotency.Store
	CORS        middleware.CORSConfig
	// AuthRateLimit throttles register and login per client IP. The zero
	// value disables it.
	AuthRateLimit middleware.RateLimitConfig
	Logger        *slog.Logger
}

// NewRouter creates a chi router with all accounts service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(cfg.Accounts, cfg.Logger)
	userHandler := NewUserHandler(cfg.Accounts, cfg.Logger)
	addressHandler := NewAddressHandler(cfg.Addresses, cfg.Logger)
	adminAddressHandler := NewAdminAddressHandler(cfg.Addresses, cfg.Logger)

	idempotent := func(next http.Handler) http.Handler { return next }
	if cfg.Idempotency != nil {
		idempotent = idempotency.Middleware(cfg.Idempotency, cfg.Logger)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Auth endpoints (public)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.AuthRateLimit, cfg.Logger))
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
		})
		r.Post("/auth/refresh", authHandler.RefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Tokens))
			r.Use(middleware.NoStore)

			r.Post("/auth/change-password", authHandler.ChangePassword)

			r.Get("/users/me", userHandler.GetProfile)
			r.Patch("/users/me", userHandler.UpdateProfile)
			r.Delete("/users/me", userHandler.DeleteProfile)

			r.Route("/addresses", func(r chi.Router) {
				mountAddresses(r, addressHandler, idempotent)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RoleAdmin))

				r.Get("/users", userHandler.ListUsers)
				r.Get("/users/{userId}", userHandler.GetUser)
				r.Patch("/users/{userId}", userHandler.UpdateUser)
				r.Delete("/users/{userId}", userHandler.DeleteUser)
				r.Route("/users/{userId}/addresses", func(r chi.Router) {
					mountAddresses(r, adminAddressHandler, idempotent)
				})
			})
		})
	})

	return r
}

func mountAddresses(r chi.Router, h *AddressHandler, idempotent func(http.Handler) http.Handler) {
	r.With(idempotent).Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/defaults", h.Defaults)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Patch)
	r.Put("/{id}", h.Replace)
	r.Delete("/{id}", h.Delete)
}
