package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func NewRouter(h *CartHandler, requestTimeout time.Duration, maxBodySize int64) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(h.log))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.RequestSize(maxBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/sync", h.Sync)
			r.Post("/items", h.AddItem)
			r.Put("/items/{product_id}", h.UpdateQuantity)
			r.Post("/items/{product_id}/decrement", h.DecrementItem)
			r.Delete("/items/{product_id}", h.RemoveItem)
		})
		r.Route("/session", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
		})
		r.Get("/notices", h.Notices)
	})

	return otelhttp.NewHandler(r, "storefront-cart")
}
