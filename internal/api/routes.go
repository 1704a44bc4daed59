package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.health.HandleHealth)
	r.Get("/health/live", h.health.HandleLiveness)
	r.Get("/health/ready", h.health.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.Post("/funnels", h.CreateFunnel)
		r.Route("/funnels/{funnelID}", func(r chi.Router) {
			r.Get("/", h.GetFunnel)
			r.Put("/", h.UpdateFunnel)

			r.Post("/stages", h.AddStage)
			r.Post("/stages/reorder", h.ReorderStages)
			r.Delete("/stages/{stageID}", h.DeleteStage)

			r.Post("/publish/validate", h.ValidatePublish)
			r.Post("/publish", h.Publish)
			r.Post("/unpublish", h.Unpublish)
			r.Post("/archive", h.Archive)

			r.Post("/sessions", h.OpenSession)
		})

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.CloseSession)

			r.Route("/stages/{stageID}/blocks", func(r chi.Router) {
				r.Get("/", h.GetBlocks)
				r.Put("/", h.SetBlocks)
				r.Post("/", h.AddBlock)
				r.Post("/move", h.MoveBlock)
				r.Patch("/{blockID}", h.UpdateBlock)
				r.Delete("/{blockID}", h.RemoveBlock)
			})

			r.Post("/header/broadcast", h.BroadcastHeader)
			r.Post("/undo", h.Undo)
			r.Post("/redo", h.Redo)
			r.Post("/save", h.Save)

			r.Get("/drafts", h.ListDrafts)
			r.Post("/drafts/{stageID}/resume", h.ResumeDraft)
			r.Delete("/drafts/{stageID}", h.DiscardDraft)

			r.Get("/export", h.Export)
			r.Post("/import", h.Import)
		})
	})

	return r
}
