package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.limiters != nil {
				r.Use(s.rateLimitMiddleware)
			}

			r.Get("/status", s.handleStatus)
			r.Get("/baselines", s.handleListBaselines)
			r.Get("/baselines/{environment}/{suite}", s.handleGetBaseline)
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/latest", s.handleLatestRun)
			r.Get("/runs/{runID}/pairs", s.handleRunPairs)
		})

		if s.cfg.Admin.Enabled {
			r.Route("/admin", func(r chi.Router) {
				if s.limiters != nil {
					r.Use(s.rateLimitMiddleware)
				}

				r.Use(s.requireAdmin)

				r.Post("/runs", s.handleTriggerRun)
				r.Post("/baselines/cleanup", s.handleCleanupBaselines)
			})
		}
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}

	return cors.Handler(opts)
}
