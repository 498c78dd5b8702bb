// Package server defines the inbound wire types and utility helpers that are
// reused across client and handler logic.
package server

import (
	"encoding/json"
	"strings"
)

// Inbound event names.
const (
	EventRegisterPresence = "register-presence"
	EventGetOnlineUsers   = "get-online-users"
	EventJoinChat         = "join-chat"
	EventSendMessage      = "send-message"
	EventDeleteMessage    = "delete-message"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventClearAllMessages = "clear-all-messages"
	EventLeaveChat        = "leave-chat"
)

// inboundFrame is the JSON frame a client sends. Data is decoded once the
// event is known.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// IdentityPayload is the data of register-presence, join-chat and leave-chat.
// Username is informational; the server resolves the name itself.
type IdentityPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// SendMessagePayload is the data of send-message.
type SendMessagePayload struct {
	Message     string `json:"message"`
	MessageType string `json:"messageType,omitempty"`
	IsNotice    bool   `json:"isNotice,omitempty"`
}

// DeleteMessagePayload is the data of delete-message.
type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
