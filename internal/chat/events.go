package chat

// Outbound event names.
const (
	EventRecentMessages     = "recent-messages"
	EventNewMessage         = "new-message"
	EventMessageDeleted     = "message-deleted"
	EventChatCleared        = "chat-cleared"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventUserTyping         = "user-typing"
	EventUserStopTyping     = "user-stop-typing"
	EventOnlineUsersUpdated = "online-users-updated"
	EventPresenceUpdated    = "presence-updated"
	EventError              = "error"
)

// Event is the envelope written to clients.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// MembershipNotice is the payload of user-joined and user-left.
type MembershipNotice struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// TypingNotice is the payload of user-typing and user-stop-typing.
type TypingNotice struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// DeletedNotice is the payload of message-deleted.
type DeletedNotice struct {
	MessageID string `json:"messageId"`
	DeletedBy string `json:"deletedBy"`
}

// ClearedNotice is the payload of chat-cleared.
type ClearedNotice struct {
	ClearedBy string `json:"clearedBy"`
}

// ErrorNotice is the payload of error.
type ErrorNotice struct {
	Message string `json:"message"`
}
