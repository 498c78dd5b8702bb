// Package server implements the HTTP server functionality for the chat service.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Server serves the chat engine over HTTP and WebSocket.
type Server struct {
	cfg      *Config
	engine   *chat.Engine
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
	baseCtx  context.Context
}

// New creates a Server. ctx bounds every operation a client triggers and
// should be cancelled only when the process is shutting down.
func New(ctx context.Context, cfg *Config, engine *chat.Engine, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if engine == nil {
		return nil, errors.New("server: chat engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	return &Server{
		cfg:    cfg,
		engine: engine,
		hub:    NewHub(engine, logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		baseCtx: ctx,
	}, nil
}

// Hub returns the hub that owns the client goroutines, for shutdown
// coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.SetupRoutes()
}
