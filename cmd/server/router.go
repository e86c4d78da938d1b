package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phrazzld/docsync-api/internal/api"
	apiMiddleware "github.com/phrazzld/docsync-api/internal/api/middleware"
)

// setupRouter creates the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.RequestLogger(app.logger))
	r.Use(middleware.Recoverer)

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)
	collectionHandler := api.NewCollectionHandler(app.operator)
	documentHandler := api.NewDocumentHandler(app.operator, app.runHistory())
	searchHandler := api.NewSearchHandler(app.operator)
	runHandler := api.NewRunHandler(app.runHistory())

	r.Route("/api", func(r chi.Router) {
		r.Use(app.supervisor.Middleware)
		r.Get("/", api.Hello)

		r.Route("/v1", func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Post("/collections", collectionHandler.CreateCollection)
			r.Delete("/collections/{name}", collectionHandler.DeleteCollection)
			r.Post("/collections/{name}/documents", documentHandler.WriteDocuments)
			r.Delete("/collections/{name}/documents", documentHandler.DeleteDocuments)
			r.Post("/collections/{name}/search", searchHandler.Search)
			r.Get("/collections/{name}/runs", runHandler.ListRuns)
			r.Post("/search", searchHandler.MultiSearch)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
