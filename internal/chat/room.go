package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// JoinRoom resolves userID, puts the connection in the room and delivers the
// recent backlog to it. The first connection of a user to enter the room
// announces the user to the room.
//
// Membership changes before the backlog is read, so a message sent during
// the read reaches the connection live. Deliveries to the connection are held
// until the backlog is sent, and messages already held are left out of it.
func (e *Engine) JoinRoom(ctx context.Context, h Handle, userID string) error {
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
		first := e.enterRoom(s)
		s.hold()
		e.logger.Info("User joined room",
			slog.String("connID", string(h)),
			slog.String("userID", ident.UserID),
			slog.Bool("firstConnection", first))

		if first {
			e.announceJoin(ident)
		}
		e.broadcastPresence()
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	backlog, loadErr := e.recentMessages(ctx)

	// The hold must be released even when the caller has gone away.
	err = e.exec(context.WithoutCancel(ctx), func() {
		s, ok := e.sessions.get(h)
		if !ok {
			return
		}
		seen, held := s.release()
		if loadErr == nil {
			e.unicast(s, Event{Name: EventRecentMessages, Data: withoutMessages(backlog, seen)})
		}
		for _, payload := range held {
			e.deliver(s, payload)
		}
	})
	if loadErr != nil {
		return loadErr
	}
	return err
}

func withoutMessages(backlog []Message, skip map[string]struct{}) []Message {
	if len(skip) == 0 {
		return backlog
	}
	kept := backlog[:0]
	for _, m := range backlog {
		if _, ok := skip[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	return kept
}

// LeaveRoom takes the connection out of the room while keeping its presence.
// It is a no-op when the connection is not in the room, or when userID is
// given and does not match the user bound to the connection.
func (e *Engine) LeaveRoom(ctx context.Context, h Handle, userID string) error {
	userID = strings.TrimSpace(userID)
	return e.exec(ctx, func() {
		s, ok := e.sessions.get(h)
		if !ok || s.state != stateInRoom {
			return
		}
		if userID != "" && userID != s.user.UserID {
			e.logger.Debug("Ignoring leave for a different user",
				slog.String("connID", string(h)),
				slog.String("boundUserID", s.user.UserID),
				slog.String("requestedUserID", userID))
			return
		}
		e.exitRoom(s)
		e.logger.Info("User left room", slog.String("connID", string(h)), slog.String("userID", s.user.UserID))
		e.broadcastPresence()
	})
}

// recentMessages loads the join backlog, oldest first.
func (e *Engine) recentMessages(ctx context.Context) ([]Message, error) {
	recent, err := e.store.ListRecent(ctx, e.backlogSize)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	backlog := make([]Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		if !recent[i].Deleted {
			backlog = append(backlog, recent[i])
		}
	}
	return backlog, nil
}

// enterRoom moves a bound session into the room and reports whether it is the
// user's first session there. Reactor only.
func (e *Engine) enterRoom(s *session) bool {
	if s.state == stateInRoom {
		return false
	}
	first := !e.sessions.userInRoom(s.user.UserID)
	s.state = stateInRoom
	return first
}

// exitRoom moves s back to Present and announces the user's departure when
// it was their last session in the room. Reactor only.
func (e *Engine) exitRoom(s *session) {
	if s.state != stateInRoom {
		return
	}
	s.state = statePresent
	if !e.sessions.userInRoom(s.user.UserID) {
		e.announceLeave(s.user)
	}
}

func (e *Engine) announceJoin(ident Identity) {
	e.broadcastRoom(Event{Name: EventUserJoined, Data: MembershipNotice{
		UserID:   ident.UserID,
		Username: ident.Username,
		Message:  ident.Username + " joined the chat",
	}}, "")
	e.broadcastRoster()
}

func (e *Engine) announceLeave(ident Identity) {
	e.broadcastRoom(Event{Name: EventUserLeft, Data: MembershipNotice{
		UserID:   ident.UserID,
		Username: ident.Username,
		Message:  ident.Username + " left the chat",
	}}, "")
	e.broadcastRoster()
}
