package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the chi router for every route in §6. wsHandler
// mounts the real-time delivery upgrade endpoint alongside the REST
// surface so a single process serves both.
func NewRouter(h *Handler, metricsHandler http.Handler, wsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/time", h.ServerTime)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Delete("/", h.DeleteSession)
				r.Post("/start", h.StartSession)
				r.Post("/switch", h.SwitchSession)
				r.Post("/pause", h.PauseSession)
				r.Post("/resume", h.ResumeSession)
				r.Post("/complete", h.CompleteSession)
				r.Post("/participants", h.AddParticipant)
				r.Patch("/participants/{participantID}", h.AdjustParticipantTime)
			})
		})
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	if wsHandler != nil {
		r.Handle("/ws", wsHandler)
	}

	return r
}
