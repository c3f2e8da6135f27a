// Package api serves the HTTP interface for triggering and observing mass
// indexing runs and for searching the index.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dshills/massindex/internal/runs"
	"github.com/dshills/massindex/internal/searcher"
)

// RouterDeps holds the services behind the routes.
type RouterDeps struct {
	Manager  *runs.Manager
	Searcher *searcher.Searcher
	Index    StatusReporter
}

func NewRouter(logger *slog.Logger, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		runHandler := NewRunHandler(logger, deps.Manager)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runHandler.List)
			r.Post("/", runHandler.Start)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", runHandler.Get)
				r.Delete("/", runHandler.Cancel)
			})
		})

		search := NewSearchHandler(logger, deps.Searcher, deps.Index)
		r.Get("/search", search.Search)
		r.Get("/status", search.Status)
	})

	return r
}
