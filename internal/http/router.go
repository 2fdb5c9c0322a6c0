package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"speech-capture-service/internal/app"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handlers{
		app: application,
		log: application.Logger.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", h.readiness)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.startSession)
			r.Get("/", h.listSessions)
			r.Route("/current", func(r chi.Router) {
				r.Get("/", h.currentSession)
				r.Post("/stop", h.stopSession)
				r.Post("/abort", h.abortSession)
				r.Get("/wait", h.waitSession)
			})
			r.Get("/{id}", h.getSession)
		})
		r.Get("/amplitude", h.amplitude)
		r.Get("/encoding", h.getEncoding)
		r.Put("/encoding", h.putEncoding)
		r.Get("/events", h.subscribe)
	})

	return r
}
