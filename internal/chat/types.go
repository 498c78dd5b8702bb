package chat

import (
	"strings"
	"time"
)

// MaxMessageLength is the longest chat message accepted, counted in characters.
const MaxMessageLength = 1000

// Handle identifies one live transport connection.
type Handle string

// Role is the privilege level of a user as reported by the identity resolver.
type Role string

// Known roles.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is a resolved user. It is bound to a connection when the user
// registers presence or joins the room and is not refreshed afterwards.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Kind classifies a chat message.
type Kind string

// Message kinds.
const (
	KindUser   Kind = "user"
	KindAdmin  Kind = "admin"
	KindSystem Kind = "system"
	KindNotice Kind = "notice"
)

// ParseKind maps a client supplied message type to a Kind. Unknown and empty
// values fall back to KindUser.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindAdmin:
		return KindAdmin
	case KindSystem:
		return KindSystem
	case KindNotice:
		return KindNotice
	default:
		return KindUser
	}
}

// Message is a chat message as held by a MessageStore.
type Message struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Username  string     `json:"username"`
	Text      string     `json:"message"`
	Kind      Kind       `json:"messageType"`
	IsNotice  bool       `json:"isNotice"`
	Deleted   bool       `json:"isDeleted"`
	DeletedBy string     `json:"deletedBy,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Presence is one entry of the online list or of the room roster.
type Presence struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	InRoom   bool   `json:"inRoom"`
}

// Roster is the payload of presence-updated and online-users-updated.
type Roster struct {
	Count int        `json:"count"`
	Users []Presence `json:"users"`
}

// Stats is a point-in-time view of the engine's bookkeeping.
type Stats struct {
	Connections int    `json:"connections"`
	Online      int    `json:"online"`
	RoomMembers int    `json:"roomMembers"`
	AutoJoins   uint64 `json:"autoJoins"`
}
