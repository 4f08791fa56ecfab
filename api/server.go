/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from proxy headers (rate limit key)
  3. Access log: One zap line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus count + latency per route pattern
  6. Secure:     Security headers (unrolled/secure)
  7. CORS:       Cross-origin requests for a frontend
  8. Rate limit: Per client IP on /api (go-chi/httprate)

ROUTE GROUPS:
  /api/schools/*                          Schools, students, calendar
  /api/schools/{id}/seasons/{seasonID}/*  Ledger, matcher, closure
  /api/seasons/*                          Seasons
  /api/students/*                         Student status
  /api/scenarios/*                        Demo scenarios
  /healthz, /metrics                      Operations

SECURITY NOTE:
  No authentication middleware. All endpoints are public; deploy behind
  an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/logging"
	"github.com/warp/tuition-engine/metrics"
)

// RouterOptions configures the middleware around the handlers.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimit is requests per minute per client IP on /api. 0 disables it.
	RateLimit  int
	Production bool
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !opts.Production,
	})

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(opts.Metrics.Middleware)
	r.Use(secureMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(httprate.Limit(opts.RateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
				}),
			))
		}

		// School routes
		r.Route("/schools", func(r chi.Router) {
			r.Get("/", h.ListSchools)
			r.Post("/", h.CreateSchool)
			r.Get("/{id}", h.GetSchool)
			r.Get("/{id}/calendar", h.Calendar)
			r.Get("/{id}/students", h.ListStudents)
			r.Post("/{id}/students", h.CreateStudent)

			// Ledger routes for one (school, season) pair
			r.Route("/{id}/seasons/{seasonID}", func(r chi.Router) {
				r.Post("/periods/ensure", h.EnsurePeriods)
				r.Get("/periods", h.ListPeriods)
				r.Get("/periods/{number}/roster", h.Roster)
				r.Post("/transactions", h.RecordTransaction)
				r.Get("/transactions", h.ListTransactions)
				r.Get("/balance", h.GetBalance)
				r.Post("/close", h.CloseSeason)
			})
		})

		// Season routes
		r.Route("/seasons", func(r chi.Router) {
			r.Get("/", h.ListSeasons)
			r.Post("/", h.CreateSeason)
		})

		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Post("/{id}/claim", h.ClaimPayment)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
