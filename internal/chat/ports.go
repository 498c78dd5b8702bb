package chat

import "context"

// IdentityResolver looks up users. Resolve returns an error wrapping
// ErrUserNotFound when the id is unknown.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID string) (Identity, error)
}

// MessageStore persists chat messages. Implementations must be safe for
// concurrent use.
type MessageStore interface {
	// Append stores msg, assigning ID and CreatedAt when they are empty.
	Append(ctx context.Context, msg Message) (Message, error)
	// Get returns the message with the given id, deleted or not, or an
	// error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (Message, error)
	// SoftDelete flags a message as deleted by byUserID.
	SoftDelete(ctx context.Context, id, byUserID string) (Message, error)
	// ListRecent returns up to limit non-deleted messages, newest first.
	ListRecent(ctx context.Context, limit int) ([]Message, error)
	// PurgeAll removes every message permanently.
	PurgeAll(ctx context.Context) error
}

// Sink delivers encoded events to one connection.
type Sink interface {
	// Send queues payload without blocking. It returns false when the
	// connection cannot keep up or is already closed.
	Send(payload []byte) bool
	// Close tears the connection down. It must be safe to call more than once.
	Close()
}
