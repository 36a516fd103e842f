package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the admin API under /admin/
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers, secret string) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(secret))

	r.Route("/models", func(r chi.Router) {
		r.Get("/", handlers.handleModels)
		r.Get("/{symbol}/entries", handlers.handleEntries)
	})
	r.Get("/publisher/cursors", handlers.handleCursors)

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/")
}
