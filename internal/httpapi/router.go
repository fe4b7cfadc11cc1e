// Package httpapi constructs the HTTP surface of the service: health
// endpoints, the session listing, and the recording WebSocket upgrade.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"meeting-transcription-service/internal/api/ws"
	"meeting-transcription-service/internal/service/session"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(registry *session.Registry) http.Handler {
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
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", listSessions(registry))
		r.Get("/ws/record", ws.NewHandler(registry).ServeHTTP)
	})

	return r
}

// listSessions serves a point-in-time snapshot of live sessions.
func listSessions(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := registry.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]any{
			"sessions": infos,
			"count":    len(infos),
		}); err != nil {
			log.Error().Err(err).Msg("Failed to encode session listing")
		}
	}
}
