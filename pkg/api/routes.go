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

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	// HTML pages.
	r.Get("/", s.handleIndexPage)
	r.Get("/results", s.handleResultsPage)
	r.Get("/trace", s.handleTracePage)
	r.Get("/devtools", s.handleDevToolsPage)

	// Submission.
	r.Group(func(r chi.Router) {
		if s.cfg.Server.RateLimit.Enabled {
			r.Use(s.rateLimitMiddleware(s.cfg.Server.RateLimit.Submit))
		}

		r.Post("/submit", s.handleSubmit)
	})

	// Polling endpoint. Cheap and side-effect free; the client loop
	// re-polls every couple of seconds until done.
	r.Group(func(r chi.Router) {
		if s.cfg.Server.RateLimit.Enabled {
			r.Use(s.rateLimitMiddleware(s.cfg.Server.RateLimit.Status))
		}

		r.Get("/status", s.handleStatus)
	})

	// Artifacts live at stable URLs under each test's storage key.
	r.Get("/artifacts/*", s.handleArtifact)
	r.Head("/artifacts/*", s.handleArtifact)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		if s.indexStore != nil {
			r.Get("/tests", s.handleListTests)
		}
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
