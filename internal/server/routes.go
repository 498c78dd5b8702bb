// Package server wires HTTP handlers into a chi router for the chat
// application via routing helpers.
package server

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes configures and returns a router with all application routes:
// health check, stats, WebSocket endpoint and test page.
func (s *Server) SetupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// The upgrade hijacks the connection, so it stays outside the timeout.
	r.HandleFunc("/ws", s.WebSocketHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Get("/", HealthHandler)
		r.Get("/stats", s.StatsHandler)
		r.Get("/test", TestPageHandler)
	})

	return r
}
