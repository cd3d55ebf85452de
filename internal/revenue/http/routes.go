package revenuehttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const (
	rateLimit  = 10
	rateWindow = time.Minute
)

// MountRoutes registers the report endpoints under /revenue.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Route("/revenue", func(r chi.Router) {
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/reports", h.handleCreate)
		})
		if h.runs != nil {
			r.Get("/runs", h.handleListRuns)
			r.Get("/runs/{id}", h.handleGetRun)
		}
	})
}
