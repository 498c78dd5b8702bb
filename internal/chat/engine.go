// Package chat is the presence and chat-room engine.
//
// All connection, presence and room bookkeeping lives in one session table
// owned by a single reactor goroutine (Engine.Run). Public operations run
// their I/O (identity resolution, message persistence) on the caller's
// goroutine and hand state changes to the reactor as closures, so a slow
// store call on one connection never stalls the others.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBacklogSize is the number of recent messages delivered on join when
// Options.BacklogSize is not set.
const DefaultBacklogSize = 50

// Options configures an Engine.
type Options struct {
	Store       MessageStore
	Resolver    IdentityResolver
	Logger      *slog.Logger
	BacklogSize int
}

// Engine coordinates connections, presence, room membership, messages and
// moderation. Create one with New and start it with Run.
type Engine struct {
	store       MessageStore
	resolver    IdentityResolver
	logger      *slog.Logger
	backlogSize int

	ops     chan func()
	stopped chan struct{}

	// reactor-owned
	sessions  *registry
	evictions []Handle
	autoJoins uint64
}

// New validates opts and returns an engine that is ready to Run.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("chat: message store is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("chat: identity resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backlog := opts.BacklogSize
	if backlog <= 0 {
		backlog = DefaultBacklogSize
	}

	return &Engine{
		store:       opts.Store,
		resolver:    opts.Resolver,
		logger:      logger.With(slog.String("component", "chat_engine")),
		backlogSize: backlog,
		ops:         make(chan func()),
		stopped:     make(chan struct{}),
		sessions:    newRegistry(),
	}, nil
}

// Run processes state changes until ctx is cancelled, then closes every
// connection still registered. It must be called exactly once.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)
	e.logger.Info("Chat engine started", slog.Int("backlogSize", e.backlogSize))

	for {
		select {
		case <-ctx.Done():
			e.shutdownSessions()
			return
		case op := <-e.ops:
			op()
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

// exec runs fn on the reactor goroutine and waits for it to finish. Sinks
// that failed a send while fn ran are evicted before exec returns.
func (e *Engine) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	var panicErr error
	op := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				panicErr = fmt.Errorf("chat: panic in reactor: %v", r)
				e.logger.Error("Recovered from panic in reactor", slog.Any("panic", r))
			}
		}()
		fn()
		e.flushEvictions()
	}

	select {
	case e.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}

	select {
	case <-done:
		return panicErr
	case <-e.stopped:
		select {
		case <-done:
			return panicErr
		default:
			return ErrEngineStopped
		}
	}
}

// Connect registers a new connection and returns its handle.
func (e *Engine) Connect(ctx context.Context, sink Sink, remoteAddr string) (Handle, error) {
	h := Handle(uuid.NewString())
	err := e.exec(ctx, func() {
		now := time.Now()
		e.sessions.add(&session{
			handle:      h,
			sink:        sink,
			remoteAddr:  remoteAddr,
			state:       stateConnected,
			connectedAt: now,
		})
		e.logger.Debug("Connection registered",
			slog.String("connID", string(h)),
			slog.String("remoteAddr", remoteAddr),
			slog.Int("connections", len(e.sessions.byHandle)))
	})
	if err != nil {
		return "", err
	}
	return h, nil
}

// Disconnect removes every trace of h and tells the remaining clients.
// Calling it for an unknown or already removed handle is a no-op.
func (e *Engine) Disconnect(ctx context.Context, h Handle) error {
	return e.exec(ctx, func() {
		e.drop(h)
	})
}

// drop is the reactor side of Disconnect.
func (e *Engine) drop(h Handle) (*session, bool) {
	s, ok := e.sessions.get(h)
	if !ok {
		return nil, false
	}
	wasInRoom := s.state == stateInRoom
	wasPresent := s.state != stateConnected

	e.sessions.remove(h)
	e.logger.Debug("Connection removed",
		slog.String("connID", string(h)),
		slog.String("state", s.state.String()),
		slog.Int("connections", len(e.sessions.byHandle)))

	if wasInRoom && !e.sessions.userInRoom(s.user.UserID) {
		e.announceLeave(s.user)
	}
	if wasPresent {
		e.broadcastPresence()
	}
	return s, true
}

func (e *Engine) flushEvictions() {
	for len(e.evictions) > 0 {
		h := e.evictions[0]
		e.evictions = e.evictions[1:]
		s, ok := e.drop(h)
		if !ok {
			continue
		}
		e.logger.Warn("Connection evicted due to full send buffer",
			slog.String("connID", string(h)),
			slog.String("remoteAddr", s.remoteAddr))
		s.sink.Close()
	}
}

// shutdownSessions closes every registered sink. Called from Run on exit.
func (e *Engine) shutdownSessions() {
	sessions := e.sessions.all()
	for _, s := range sessions {
		s.sink.Close()
	}
	e.sessions = newRegistry()
	e.evictions = nil
	e.logger.Info("Chat engine stopped", slog.Int("closedConnections", len(sessions)))
}

// Stats returns the current bookkeeping counters.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := e.exec(ctx, func() {
		st = e.sessions.stats()
		st.AutoJoins = e.autoJoins
	})
	return st, err
}

// resolve runs the identity lookup outside the reactor.
func (e *Engine) resolve(ctx context.Context, userID string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: empty user id", ErrUserNotFound)
	}
	ident, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("resolve user %q: %w", userID, err)
	}
	if ident.UserID == "" {
		ident.UserID = userID
	}
	if ident.Role == "" {
		ident.Role = RoleUser
	}
	return ident, nil
}

// actor returns the identity bound to h, or ErrAuthenticationRequired.
// Reactor only.
func (e *Engine) actor(h Handle) (*session, error) {
	s, ok := e.sessions.get(h)
	if !ok {
		return nil, ErrConnectionClosed
	}
	if s.state == stateConnected {
		return nil, ErrAuthenticationRequired
	}
	return s, nil
}
