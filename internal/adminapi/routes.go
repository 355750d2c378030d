package adminapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the admin API's chi.Mux.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.apiKey))

		r.Get("/tables", h.ListTables)
		r.Get("/tables/{table}", h.GetTable)

		r.Put("/phase", h.SetDefaultPhase)
		r.Put("/tables/{table}/phase", h.SetTablePhase)
		r.Delete("/tables/{table}/phase", h.ClearTablePhase)

		r.Post("/tables/{table}/backfill", h.StartBackfill)
		r.Get("/tables/{table}/backfill", h.GetBackfillStatus)
		r.Post("/tables/{table}/backfill/pause", h.PauseBackfill)
		r.Post("/tables/{table}/backfill/resume", h.ResumeBackfill)
		r.Delete("/tables/{table}/backfill", h.CancelBackfill)

		r.Post("/tables/{table}/verify", h.VerifyTable)
	})

	return r
}
