package chat

import (
	"context"
	"log/slog"
)

// RegisterPresence resolves userID and marks the connection as reachable for
// that user, then sends the updated online list to every connection.
func (e *Engine) RegisterPresence(ctx context.Context, h Handle, userID string) error {
	ident, err := e.resolve(ctx, userID)
	if err != nil {
		return err
	}

	var opErr error
	err = e.exec(ctx, func() {
		s, ok := e.sessions.get(h)
		if !ok {
			opErr = ErrConnectionClosed
			return
		}
		e.bindIdentity(s, ident)
		e.logger.Info("Presence registered",
			slog.String("connID", string(h)),
			slog.String("userID", ident.UserID),
			slog.Int("online", len(e.sessions.byUser)))
		e.broadcastPresence()
	})
	if err != nil {
		return err
	}
	return opErr
}

// bindIdentity attaches ident to s. If s was bound to a different user and in
// the room, that user leaves the room first.
func (e *Engine) bindIdentity(s *session, ident Identity) {
	if s.state == stateInRoom && s.user.UserID != ident.UserID {
		e.exitRoom(s)
	}
	e.sessions.bind(s, ident)
}

// ListOnline returns one entry per reachable user.
func (e *Engine) ListOnline(ctx context.Context) ([]Presence, error) {
	var users []Presence
	err := e.exec(ctx, func() {
		users = e.sessions.presence()
	})
	return users, err
}

// ReplyOnlineUsers sends the online list to h only.
func (e *Engine) ReplyOnlineUsers(ctx context.Context, h Handle) error {
	return e.exec(ctx, func() {
		if s, ok := e.sessions.get(h); ok {
			e.unicast(s, e.presenceEvent())
		}
	})
}
