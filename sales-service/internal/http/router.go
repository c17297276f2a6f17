package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the sales API. The same routes back the terminal's
// gateway client.
func NewRouter(h *SalesHandler, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/products", h.GetProducts)
	r.Get("/categories", h.GetCategories)
	r.Route("/sales", func(r chi.Router) {
		r.Get("/", h.ListSales)
		r.Post("/", h.CommitSale)
		r.Get("/{id}", h.GetSale)
	})

	return r
}
