package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the terminal API a presentation layer drives.
// There is no timeout middleware; the orchestrator bounds the gateway call.
func NewRouter(h *TerminalHandler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.GetProducts)
		r.Put("/products/category", h.SetCategory)
		r.Get("/categories", h.GetCategories)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.VoidSale)
			r.Post("/items", h.AddItem)
			r.Patch("/items/{product_id}", h.UpdateItem)
			r.Delete("/items/{product_id}", h.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", h.GetCheckout)
			r.Delete("/", h.Cancel)
			r.Post("/open", h.OpenCheckout)
			r.Put("/form", h.UpdateForm)
			r.Post("/submit", h.Submit)
			r.Post("/retry", h.Retry)
		})

		r.Get("/receipts/last", h.LastReceipt)
		r.Get("/receipts/{sale_number}", h.GetReceipt)
	})

	return r
}
