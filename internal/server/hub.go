// Package server tracks upgraded WebSocket clients and their pump goroutines
// so the process can wait for them on shutdown via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Hub registers clients with the chat engine and owns their read and write
// pumps. Routing of events is the engine's job; the hub only keeps track of
// which goroutines are alive.
type Hub struct {
	engine  *chat.Engine
	logger  *slog.Logger
	clients map[*Client]struct{}
	mutex   sync.Mutex
	wg      sync.WaitGroup
}

// NewHub creates a Hub bound to engine.
func NewHub(engine *chat.Engine, logger *slog.Logger) *Hub {
	return &Hub{
		engine:  engine,
		logger:  logger.With(slog.String("component", "hub")),
		clients: make(map[*Client]struct{}),
	}
}

// Register connects client to the engine and launches its pumps.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	handle, err := h.engine.Connect(ctx, client, client.addr)
	if err != nil {
		return err
	}
	client.handle = handle

	h.mutex.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info("Client registered",
		slog.String("remoteAddr", client.addr),
		slog.String("connID", string(handle)),
		slog.Int("clients", clientCount))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
		h.unregister(client)
	}()
	return nil
}

func (h *Hub) unregister(client *Client) {
	h.mutex.Lock()
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info("Client unregistered",
		slog.String("remoteAddr", client.addr),
		slog.String("connID", string(client.handle)),
		slog.Int("clients", clientCount))
}

// Count returns the number of clients whose read pump is still running.
func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// shutdownClients closes every remaining connection so blocked reads return.
func (h *Hub) shutdownClients() {
	h.logger.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.Close()
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.logger.Warn("Error closing client connection",
						slog.String("remoteAddr", client.addr),
						slog.Any("error", err))
				}
			}
		}
	}

	h.logger.Info("Closed client connections", slog.Int("count", len(clients)))
}

// Shutdown closes all client connections and waits for their goroutines to
// complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	h.shutdownClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
