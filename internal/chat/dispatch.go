package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// The dispatcher functions below run on the reactor. Delivery is
// fire-and-forget; a sink that refuses a payload is queued for eviction.

func (e *Engine) encode(ev Event) ([]byte, bool) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("Failed to encode event", slog.String("event", ev.Name), slog.Any("error", err))
		return nil, false
	}
	return payload, true
}

func (e *Engine) deliver(s *session, payload []byte) {
	if s.loading > 0 {
		s.held = append(s.held, payload)
		return
	}
	if !s.sink.Send(payload) {
		e.evictions = append(e.evictions, s.handle)
	}
}

// unicast sends ev to a single session.
func (e *Engine) unicast(s *session, ev Event) {
	payload, ok := e.encode(ev)
	if !ok {
		return
	}
	e.deliver(s, payload)
}

// broadcastRoom sends ev to every session in the room except exclude.
func (e *Engine) broadcastRoom(ev Event, exclude Handle) {
	e.broadcastRoomFunc(ev, func(s *session) bool {
		return exclude != "" && s.handle == exclude
	})
}

// broadcastRoomFunc sends ev to every session in the room for which skip
// returns false.
func (e *Engine) broadcastRoomFunc(ev Event, skip func(*session) bool) {
	payload, ok := e.encode(ev)
	if !ok {
		return
	}
	msg, isMsg := ev.Data.(Message)
	targets := e.sessions.inRoom()
	for _, s := range targets {
		if skip(s) {
			continue
		}
		if isMsg && s.loading > 0 {
			s.heldMsgs[msg.ID] = struct{}{}
		}
		e.deliver(s, payload)
	}
	e.logger.Debug("Room broadcast", slog.String("event", ev.Name), slog.Int("targets", len(targets)))
}

// broadcastGlobal sends ev to every live connection.
func (e *Engine) broadcastGlobal(ev Event) {
	payload, ok := e.encode(ev)
	if !ok {
		return
	}
	for _, s := range e.sessions.all() {
		e.deliver(s, payload)
	}
}

func (e *Engine) presenceEvent() Event {
	users := e.sessions.presence()
	return Event{Name: EventPresenceUpdated, Data: Roster{Count: len(users), Users: users}}
}

func (e *Engine) broadcastPresence() {
	e.broadcastGlobal(e.presenceEvent())
}

func (e *Engine) broadcastRoster() {
	users := e.sessions.roster()
	if users == nil {
		users = []Presence{}
	}
	e.broadcastRoom(Event{Name: EventOnlineUsersUpdated, Data: Roster{Count: len(users), Users: users}}, "")
}

// ReportError tells h that its last request failed. Errors outside the
// client facing taxonomy are logged and reported as InternalErrorMessage.
// Nothing is sent for a closed connection or a stopped engine.
func (e *Engine) ReportError(ctx context.Context, h Handle, cause error) error {
	if cause == nil || errors.Is(cause, ErrConnectionClosed) || errors.Is(cause, ErrEngineStopped) ||
		errors.Is(cause, context.Canceled) {
		return nil
	}
	text, public := PublicMessage(cause)
	if !public {
		e.logger.Error("Operation failed", slog.String("connID", string(h)), slog.Any("error", cause))
	}
	return e.exec(ctx, func() {
		s, ok := e.sessions.get(h)
		if !ok {
			return
		}
		e.unicast(s, Event{Name: EventError, Data: ErrorNotice{Message: text}})
	})
}
