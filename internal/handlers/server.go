package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"odisea.app/cloud/internal/auth"
	"odisea.app/cloud/internal/logger"
	"odisea.app/cloud/internal/models"
	"odisea.app/cloud/internal/ratelimit"
)

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Version        string
	Roles          auth.RoleChecker
	Health         Pinger
	Verifier       *auth.Verifier
	Stripe         *StripeHandler
	Checkout       *CheckoutHandler
	Admin          *AdminHandler
	Translate      *TranslateHandler
	AllowedOrigins []string
	RateLimiter    *ratelimit.FixedWindowLimiter
}

type Server struct {
	Router  chi.Router
	version string
	health  Pinger
}

func NewServer(deps Dependencies) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		version: deps.Version,
		health:  deps.Health,
	}

	r := s.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newRequestLogger(logger.Default()))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/stripe", deps.Stripe.HandleWebhook)

		r.With(ratelimit.Middleware(deps.RateLimiter, deps.RateLimiter.Window(), ratelimit.ClientIP)).
			Post("/translate", deps.Translate.Translate)

		r.Group(func(r chi.Router) {
			r.Use(deps.Verifier.Middleware)
			r.Post("/checkout", deps.Checkout.CreateSession)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(deps.Roles, models.RoleAdmin))
				r.Get("/users", deps.Admin.ListUsers)
				r.Patch("/users/{id}", deps.Admin.UpdateUser)
			})
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		Timestamp: time.Now().UTC(),
	}
	status := http.StatusOK

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, response)
}
