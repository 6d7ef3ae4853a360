/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the family web app

ROUTE GROUPS:
  /healthz                     Database ping
  /metrics                     Prometheus scrape
  /api/allowance/*             Accrual trigger, history, dev harness
  /api/families/*              Member dashboards, transactions, settings
  /api/scenarios/*             Demo scenarios (development only)

SECURITY NOTE:
  The trigger is protected by a bearer secret in production. Member routes
  trust the X-Actor-ID header and must sit behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Trigger secret and actor header
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/teich/bank4/metrics"
)

// RouterOptions configures security-relevant routing.
type RouterOptions struct {
	Production     bool
	CronSecret     string
	AllowedOrigins []string
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Accrual routes
		r.Route("/allowance", func(r chi.Router) {
			r.With(RequireCronSecret(opts.Production, opts.CronSecret)).Post("/run", h.TriggerAccrual)
			r.Get("/runs", h.ListAccrualRuns)
			r.Post("/test", h.SimulateAccrual)
		})

		// Member routes
		r.Route("/families/{familyID}/members/{userID}", func(r chi.Router) {
			r.Get("/dashboard", h.GetDashboard)
			r.Post("/transactions", h.CreateTransaction)
			r.Get("/allowance-settings", h.ListSettings)
			r.Post("/allowance-settings", h.SaveSettings)
		})

		// Scenario routes
		if h.Development {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}
