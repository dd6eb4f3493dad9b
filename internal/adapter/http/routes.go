package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	hrotel "github.com/Strob0t/hookrelay/internal/adapter/otel"
	"github.com/Strob0t/hookrelay/internal/middleware"
)

// IngestRouter builds the local hook submission surface.
func IngestRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(hrotel.HTTPMiddleware("ingest"))

	r.Post("/api/v1/events", h.IngestEvent)
	return r
}

// ObserverRouter builds the observer surface: websocket stream, health and
// flushed session documents.
func ObserverRouter(h *Handlers, corsOrigin string) chi.Router {
	r := chi.NewRouter()
	r.Use(CORS(corsOrigin))
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// WebSocket endpoint
	r.Get("/ws", h.Observers.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(hrotel.HTTPMiddleware("observer"))
		r.Get("/health", h.Health)
		r.Get("/api/v1/sessions/{id}", h.GetSession)
	})
	return r
}
