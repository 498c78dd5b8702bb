// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatroom/internal/chat"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Client is one WebSocket connection. It is the chat.Sink the engine writes
// to, and it turns inbound frames into engine calls.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	engine         *chat.Engine
	handle         chat.Handle
	addr           string
	ctx            context.Context
	logger         *slog.Logger
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	mu     sync.Mutex
	closed bool
}

// NewClient creates a Client for conn. Operations it triggers run under ctx,
// which should live as long as the server does.
func NewClient(ctx context.Context, conn *websocket.Conn, engine *chat.Engine, cfg *Config, logger *slog.Logger, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		engine:         engine,
		addr:           addr,
		ctx:            ctx,
		logger:         logger.With(slog.String("remoteAddr", addr)),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
	}
}

// Send queues payload for the write pump. It returns false when the buffer
// is full or the client is closed; the engine evicts the client then.
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame on its way out.
// It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", slog.Any("error", err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("Error setting read deadline in pong handler", slog.Any("error", err))
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("Frame exceeded maximum size", slog.Int64("maxMessageSize", c.maxMessageSize))
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Debug("Client disconnected", slog.Any("reason", err))
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug("Client connection closed", slog.Any("reason", err))
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn("Unexpected WebSocket error", slog.Any("error", err))
		return true
	}

	c.logger.Warn("WebSocket read error", slog.Any("error", err))
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the frame should be processed
func (c *Client) checkRateLimit() bool {
	if !c.rateLimiter.allow() {
		c.logger.Warn("Rate limit exceeded; discarding frame",
			slog.Int("burst", c.rateLimit.Burst),
			slog.Duration("refillInterval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// processFrame runs one inbound frame and reports any failure back to the
// sender as an error event.
func (c *Client) processFrame(raw []byte) {
	err := c.dispatch(raw)
	if err == nil {
		return
	}
	if rerr := c.engine.ReportError(c.ctx, c.handle, err); rerr != nil && !errors.Is(rerr, chat.ErrEngineStopped) &&
		!errors.Is(rerr, context.Canceled) {
		c.logger.Warn("Failed to report error to client", slog.Any("error", rerr))
	}
}

func (c *Client) dispatch(raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic while handling frame", slog.Any("panic", r))
			err = fmt.Errorf("panic handling frame: %v", r)
		}
	}()

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("%w: malformed frame", chat.ErrValidation)
	}
	c.logger.Debug("Received frame", slog.String("event", frame.Event), slog.String("connID", string(c.handle)))

	switch frame.Event {
	case EventRegisterPresence:
		var p IdentityPayload
		if err := decodeData(frame.Data, &p); err != nil {
			return err
		}
		return c.engine.RegisterPresence(c.ctx, c.handle, p.UserID)

	case EventGetOnlineUsers:
		return c.engine.ReplyOnlineUsers(c.ctx, c.handle)

	case EventJoinChat:
		var p IdentityPayload
		if err := decodeData(frame.Data, &p); err != nil {
			return err
		}
		return c.engine.JoinRoom(c.ctx, c.handle, p.UserID)

	case EventSendMessage:
		var p SendMessagePayload
		if err := decodeData(frame.Data, &p); err != nil {
			return err
		}
		_, err := c.engine.SendMessage(c.ctx, c.handle, p.Message, chat.ParseKind(p.MessageType), p.IsNotice)
		return err

	case EventDeleteMessage:
		var p DeleteMessagePayload
		if err := decodeData(frame.Data, &p); err != nil {
			return err
		}
		return c.engine.DeleteMessage(c.ctx, c.handle, p.MessageID)

	case EventTypingStart:
		return c.engine.TypingStart(c.ctx, c.handle)

	case EventTypingStop:
		return c.engine.TypingStop(c.ctx, c.handle)

	case EventClearAllMessages:
		return c.engine.ClearAllMessages(c.ctx, c.handle)

	case EventLeaveChat:
		var p IdentityPayload
		if err := decodeData(frame.Data, &p); err != nil {
			return err
		}
		return c.engine.LeaveRoom(c.ctx, c.handle, p.UserID)

	default:
		return fmt.Errorf("%w: unknown event %q", chat.ErrValidation, frame.Event)
	}
}

// decodeData unmarshals an event payload. A missing payload leaves v zeroed.
func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed event data", chat.ErrValidation)
	}
	return nil
}

func (c *Client) readPump() {
	defer func() {
		if err := c.engine.Disconnect(c.ctx, c.handle); err != nil &&
			!errors.Is(err, chat.ErrEngineStopped) && !errors.Is(err, context.Canceled) {
			c.logger.Warn("Error unregistering connection", slog.Any("error", err))
		}
		c.Close()
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Warn("Error closing connection in readPump", slog.Any("error", err))
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			break
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error closing connection in writePump", slog.Any("error", err))
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", slog.Any("error", err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if !c.writeTextMessage(message) {
		return false
	}
	return c.writeQueuedMessages()
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing close message", slog.Any("error", err))
		}
	}
	return false
}

// writeTextMessage writes one event as its own text frame.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Warn("Error creating writer", slog.Any("error", err))
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.logger.Warn("Error writing message", slog.Any("error", err))
		return false
	}

	if err := w.Close(); err != nil {
		c.logger.Warn("Error closing writer", slog.Any("error", err))
		return false
	}
	return true
}

// writeQueuedMessages drains what was queued while the last frame was being
// written. Each event keeps its own frame so clients can parse them one by one.
func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeTextMessage(message) {
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", slog.Any("error", err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("Error writing ping message", slog.Any("error", err))
		return false
	}
	return true
}
