package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// SendMessage validates, persists and broadcasts a chat message from h.
//
// A connection that registered presence but never joined is moved into the
// room first (auto-join). Validation runs before that transition, so a
// rejected message leaves no trace.
func (e *Engine) SendMessage(ctx context.Context, h Handle, text string, kind Kind, isNotice bool) (Message, error) {
	var (
		author Identity
		body   string
		opErr  error
	)
	err := e.exec(ctx, func() {
		s, err := e.actor(h)
		if err != nil {
			opErr = err
			return
		}
		body, err = validateText(text)
		if err != nil {
			opErr = err
			return
		}
		if s.state == statePresent {
			e.autoJoin(s)
		}
		author = s.user
	})
	if err != nil {
		return Message{}, err
	}
	if opErr != nil {
		return Message{}, opErr
	}

	msg := normalize(author, body, kind, isNotice)
	stored, err := e.store.Append(ctx, msg)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	// The author may be gone by now; the room still gets the message.
	err = e.exec(ctx, func() {
		e.broadcastRoom(Event{Name: EventNewMessage, Data: stored}, "")
	})
	return stored, err
}

// autoJoin is the Present --send--> InRoom transition.
func (e *Engine) autoJoin(s *session) {
	first := e.enterRoom(s)
	e.autoJoins++
	e.logger.Info("Auto-joined room on send",
		slog.String("connID", string(s.handle)),
		slog.String("userID", s.user.UserID),
		slog.Uint64("autoJoins", e.autoJoins))
	if first {
		e.announceJoin(s.user)
	}
	e.broadcastPresence()
}

func validateText(text string) (string, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return "", fmt.Errorf("%w: message cannot be empty", ErrValidation)
	}
	if n := utf8.RuneCountInString(body); n > MaxMessageLength {
		return "", fmt.Errorf("%w: message exceeds %d characters", ErrValidation, MaxMessageLength)
	}
	return body, nil
}

// normalize applies the role rules: an admin's user message becomes an admin
// message, and only admins may post notices or non-user kinds.
func normalize(author Identity, body string, kind Kind, isNotice bool) Message {
	if author.IsAdmin() {
		if kind == KindUser || kind == "" {
			kind = KindAdmin
		}
	} else {
		kind = KindUser
		isNotice = false
	}
	return Message{
		UserID:   author.UserID,
		Username: author.Username,
		Text:     body,
		Kind:     kind,
		IsNotice: isNotice,
	}
}
