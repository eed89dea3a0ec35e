package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/phase-funnel/internal/capi"
	"github.com/ignite/phase-funnel/internal/ratelimit"
)

// RouteOptions carry the boundary concerns wrapped around the handlers.
type RouteOptions struct {
	AllowedOrigins []string
	// Limiter throttles /api per client IP. Nil disables it.
	Limiter ratelimit.Limiter
	// Forward serves the browser's channel B. Nil leaves it unmounted.
	Forward *capi.Handler
	Health  *HealthChecker
}

// SetupRoutes configures all routes.
func SetupRoutes(h *Handlers, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Server-Binary", "cmd/server")
			next.ServeHTTP(w, req)
		})
	})

	// Credentials are allowed so the tracking cookies travel with API calls.
	// sendBeacon posts text/plain, hence the extra content type.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if opts.Health != nil {
		r.Get("/health", opts.Health.HandleHealth)
		r.Get("/health/live", opts.Health.HandleLiveness)
		r.Get("/health/ready", opts.Health.HandleReadiness)
	}

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(ratelimit.Middleware(opts.Limiter, ratelimit.ByRemoteIP, h.log))
		}

		if opts.Forward != nil {
			opts.Forward.Routes(r)
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/quiz/questions", h.GetQuestions)
			r.Post("/quiz/result", h.PostQuizResult)

			r.Post("/leads", h.PostLead)
			r.Get("/leads/stats", h.GetLeadStats)

			r.Post("/report/preview", h.PostReportPreview)

			r.Post("/track/pageview", h.PostPageView)
			r.Get("/track/bootstrap.js", h.GetBootstrapScript)
			r.Post("/track/event", h.PostTrack)

			r.Get("/consent", h.GetConsent)
			r.Post("/consent", h.PostConsent)
		})
	})

	return r
}
