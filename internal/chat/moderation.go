package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DeleteMessage soft-deletes a message. The author and admins may delete.
func (e *Engine) DeleteMessage(ctx context.Context, h Handle, messageID string) error {
	actor, err := e.boundIdentity(ctx, h)
	if err != nil {
		return err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return fmt.Errorf("%w: empty message id", ErrNotFound)
	}

	msg, err := e.store.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("load message: %w", err)
	}
	if msg.Deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	if msg.UserID != actor.UserID && !actor.IsAdmin() {
		return fmt.Errorf("%w: only the author or an admin can delete this message", ErrAuthorizationDenied)
	}

	if _, err := e.store.SoftDelete(ctx, messageID, actor.UserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete message: %w", err)
	}
	e.logger.Info("Message deleted", slog.String("messageID", messageID), slog.String("deletedBy", actor.UserID))

	return e.exec(ctx, func() {
		e.broadcastRoom(Event{Name: EventMessageDeleted, Data: DeletedNotice{
			MessageID: messageID,
			DeletedBy: actor.UserID,
		}}, "")
	})
}

// ClearAllMessages permanently removes every message. Admins only.
func (e *Engine) ClearAllMessages(ctx context.Context, h Handle) error {
	actor, err := e.boundIdentity(ctx, h)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: only admins can clear the chat", ErrAuthorizationDenied)
	}

	if err := e.store.PurgeAll(ctx); err != nil {
		return fmt.Errorf("purge messages: %w", err)
	}
	e.logger.Warn("All messages cleared", slog.String("clearedBy", actor.UserID))

	return e.exec(ctx, func() {
		e.broadcastRoom(Event{Name: EventChatCleared, Data: ClearedNotice{ClearedBy: actor.Username}}, "")
	})
}

// TypingStart tells the rest of the room that h is typing.
func (e *Engine) TypingStart(ctx context.Context, h Handle) error {
	return e.relayTyping(ctx, h, EventUserTyping)
}

// TypingStop tells the rest of the room that h stopped typing.
func (e *Engine) TypingStop(ctx context.Context, h Handle) error {
	return e.relayTyping(ctx, h, EventUserStopTyping)
}

func (e *Engine) relayTyping(ctx context.Context, h Handle, name string) error {
	return e.exec(ctx, func() {
		s, ok := e.sessions.get(h)
		if !ok || s.state != stateInRoom {
			return
		}
		typist := s.user
		e.broadcastRoomFunc(Event{Name: name, Data: TypingNotice{
			UserID:   typist.UserID,
			Username: typist.Username,
		}}, func(other *session) bool {
			return other.user.UserID == typist.UserID
		})
	})
}

// boundIdentity returns the identity of a present or in-room connection.
func (e *Engine) boundIdentity(ctx context.Context, h Handle) (Identity, error) {
	var (
		ident Identity
		opErr error
	)
	err := e.exec(ctx, func() {
		s, err := e.actor(h)
		if err != nil {
			opErr = err
			return
		}
		ident = s.user
	})
	if err != nil {
		return Identity{}, err
	}
	return ident, opErr
}
