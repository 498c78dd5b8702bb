package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/identity"
	"github.com/Tyrowin/chatroom/internal/logging"
	"github.com/Tyrowin/chatroom/internal/store"
	"github.com/Tyrowin/chatroom/internal/testhelpers"
)

var (
	alice = chat.Identity{UserID: "u1", Username: "Alice", Role: chat.RoleUser}
	bob   = chat.Identity{UserID: "u2", Username: "Bob", Role: chat.RoleUser}
	root  = chat.Identity{UserID: "adm", Username: "Root", Role: chat.RoleAdmin}
)

type harness struct {
	t      *testing.T
	ctx    context.Context
	engine *chat.Engine
	store  *store.Memory
	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, store.NewMemory())
}

func newHarnessWithStore(t *testing.T, st *store.Memory) *harness {
	t.Helper()
	return newHarnessBackedBy(t, st, st)
}

// newHarnessBackedBy runs the engine on backend while tests inspect mem.
func newHarnessBackedBy(t *testing.T, backend chat.MessageStore, mem *store.Memory) *harness {
	t.Helper()
	engine, err := chat.New(chat.Options{
		Store:    backend,
		Resolver: identity.NewDirectory(alice, bob, root),
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-engine.Done()
	})

	return &harness{
		t:      t,
		ctx:    context.Background(),
		engine: engine,
		store:  mem,
		cancel: cancel,
	}
}

func (h *harness) connect() (chat.Handle, *testhelpers.RecordingSink) {
	h.t.Helper()
	sink := testhelpers.NewRecordingSink()
	handle, err := h.engine.Connect(h.ctx, sink, "127.0.0.1:5000")
	require.NoError(h.t, err)
	return handle, sink
}

func (h *harness) joined(user chat.Identity) (chat.Handle, *testhelpers.RecordingSink) {
	h.t.Helper()
	handle, sink := h.connect()
	require.NoError(h.t, h.engine.JoinRoom(h.ctx, handle, user.UserID))
	return handle, sink
}

func (h *harness) stats() chat.Stats {
	h.t.Helper()
	st, err := h.engine.Stats(h.ctx)
	require.NoError(h.t, err)
	return st
}

func decode[T any](t *testing.T, f testhelpers.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, f.Decode(&v))
	return v
}

func lastRoster(t *testing.T, sink *testhelpers.RecordingSink, event string) chat.Roster {
	t.Helper()
	f, err := sink.Last(event)
	require.NoError(t, err)
	return decode[chat.Roster](t, f)
}

func userIDs(list []chat.Presence) []string {
	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.UserID
	}
	return ids
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := chat.New(chat.Options{Resolver: identity.NewDirectory()})
	assert.Error(t, err)

	_, err = chat.New(chat.Options{Store: store.NewMemory()})
	assert.Error(t, err)
}

func TestConnectAndDisconnect(t *testing.T) {
	h := newHarness(t)

	a, _ := h.connect()
	b, _ := h.connect()
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, h.stats().Connections)

	require.NoError(t, h.engine.Disconnect(h.ctx, a))
	require.NoError(t, h.engine.Disconnect(h.ctx, a), "second disconnect is a no-op")
	require.NoError(t, h.engine.Disconnect(h.ctx, "unknown"))

	st := h.stats()
	assert.Equal(t, 1, st.Connections)
	assert.Equal(t, 0, st.Online)
}

func TestRegisterPresence(t *testing.T) {
	t.Run("broadcasts to every connection", func(t *testing.T) {
		h := newHarness(t)
		_, observerSink := h.connect()
		conn, sink := h.connect()

		require.NoError(t, h.engine.RegisterPresence(h.ctx, conn, "u1"))

		for _, s := range []*testhelpers.RecordingSink{sink, observerSink} {
			roster := lastRoster(t, s, chat.EventPresenceUpdated)
			assert.Equal(t, 1, roster.Count)
			require.Len(t, roster.Users, 1)
			assert.Equal(t, "Alice", roster.Users[0].Username)
			assert.False(t, roster.Users[0].InRoom)
		}

		st := h.stats()
		assert.Equal(t, 1, st.Online)
		assert.Equal(t, 0, st.RoomMembers)
	})

	t.Run("unknown user", func(t *testing.T) {
		h := newHarness(t)
		conn, sink := h.connect()

		err := h.engine.RegisterPresence(h.ctx, conn, "ghost")
		assert.ErrorIs(t, err, chat.ErrUserNotFound)
		assert.Empty(t, sink.Frames())
		assert.Equal(t, 0, h.stats().Online)
	})

	t.Run("empty user id", func(t *testing.T) {
		h := newHarness(t)
		conn, _ := h.connect()

		err := h.engine.RegisterPresence(h.ctx, conn, "   ")
		assert.ErrorIs(t, err, chat.ErrUserNotFound)
	})

	t.Run("closed connection", func(t *testing.T) {
		h := newHarness(t)
		conn, _ := h.connect()
		require.NoError(t, h.engine.Disconnect(h.ctx, conn))

		err := h.engine.RegisterPresence(h.ctx, conn, "u1")
		assert.ErrorIs(t, err, chat.ErrConnectionClosed)
		assert.Equal(t, 0, h.stats().Online, "no state is created for a dead handle")
	})
}

func TestJoinRoomDeliversBacklogAndAnnounces(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	first, err := st.Append(ctx, chat.Message{UserID: "u2", Username: "Bob", Text: "first", Kind: chat.KindUser})
	require.NoError(t, err)
	removed, err := st.Append(ctx, chat.Message{UserID: "u2", Username: "Bob", Text: "removed", Kind: chat.KindUser})
	require.NoError(t, err)
	third, err := st.Append(ctx, chat.Message{UserID: "u2", Username: "Bob", Text: "third", Kind: chat.KindUser})
	require.NoError(t, err)
	_, err = st.SoftDelete(ctx, removed.ID, "u2")
	require.NoError(t, err)

	h := newHarnessWithStore(t, st)
	_, bobSink := h.joined(bob)
	bobSink.Reset()

	conn, sink := h.connect()
	require.NoError(t, h.engine.JoinRoom(h.ctx, conn, "u1"))

	assert.Equal(t, []string{
		chat.EventRecentMessages,
		chat.EventUserJoined,
		chat.EventOnlineUsersUpdated,
		chat.EventPresenceUpdated,
	}, sink.Events())

	backlog := decode[[]chat.Message](t, sink.Frames()[0])
	require.Len(t, backlog, 2)
	assert.Equal(t, first.ID, backlog[0].ID, "oldest first")
	assert.Equal(t, third.ID, backlog[1].ID)

	joined := decode[chat.MembershipNotice](t, sink.Frames()[1])
	assert.Equal(t, "u1", joined.UserID)
	assert.Equal(t, "Alice joined the chat", joined.Message)

	assert.Empty(t, bobSink.Named(chat.EventRecentMessages), "backlog is unicast")
	require.Len(t, bobSink.Named(chat.EventUserJoined), 1)

	roster := lastRoster(t, bobSink, chat.EventOnlineUsersUpdated)
	assert.Equal(t, []string{"u1", "u2"}, userIDs(roster.Users))
	assert.Equal(t, 2, h.stats().RoomMembers)
}

// pausingStore blocks the next ListRecent until released.
type pausingStore struct {
	*store.Memory
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (p *pausingStore) ListRecent(ctx context.Context, limit int) ([]chat.Message, error) {
	if p.armed.CompareAndSwap(true, false) {
		close(p.entered)
		<-p.release
	}
	return p.Memory.ListRecent(ctx, limit)
}

func TestJoinRoomKeepsMessagesSentWhileLoadingBacklog(t *testing.T) {
	mem := store.NewMemory()
	st := &pausingStore{Memory: mem, entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessBackedBy(t, st, mem)

	bobConn, _ := h.joined(bob)

	st.armed.Store(true)
	conn, sink := h.connect()
	joinErr := make(chan error, 1)
	go func() { joinErr <- h.engine.JoinRoom(h.ctx, conn, "u1") }()

	<-st.entered
	sent, err := h.engine.SendMessage(h.ctx, bobConn, "while you were loading", chat.KindUser, false)
	require.NoError(t, err)
	assert.Empty(t, sink.Frames(), "deliveries wait for the backlog")

	close(st.release)
	require.NoError(t, <-joinErr)

	events := sink.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, chat.EventRecentMessages, events[0], "backlog comes first")

	backlog := decode[[]chat.Message](t, sink.Frames()[0])
	assert.Empty(t, backlog, "a message delivered live is not repeated in the backlog")

	live := sink.Named(chat.EventNewMessage)
	require.Len(t, live, 1)
	assert.Equal(t, sent.ID, decode[chat.Message](t, live[0]).ID)
}

func TestJoinRoomBacklogIsCapped(t *testing.T) {
	st := store.NewMemory()
	for i := 0; i < chat.DefaultBacklogSize+10; i++ {
		_, err := st.Append(context.Background(), chat.Message{UserID: "u2", Username: "Bob", Text: "m", Kind: chat.KindUser})
		require.NoError(t, err)
	}
	h := newHarnessWithStore(t, st)

	_, sink := h.joined(alice)

	f, err := sink.Last(chat.EventRecentMessages)
	require.NoError(t, err)
	assert.Len(t, decode[[]chat.Message](t, f), chat.DefaultBacklogSize)
}

func TestJoinRoomUnknownUser(t *testing.T) {
	h := newHarness(t)
	conn, sink := h.connect()

	err := h.engine.JoinRoom(h.ctx, conn, "ghost")
	assert.ErrorIs(t, err, chat.ErrUserNotFound)
	assert.Empty(t, sink.Frames())
	assert.Equal(t, 0, h.stats().RoomMembers)
}

func TestLeaveRoom(t *testing.T) {
	t.Run("keeps presence and announces", func(t *testing.T) {
		h := newHarness(t)
		conn, _ := h.joined(alice)
		_, bobSink := h.joined(bob)
		bobSink.Reset()

		require.NoError(t, h.engine.LeaveRoom(h.ctx, conn, "u1"))

		left, err := bobSink.Last(chat.EventUserLeft)
		require.NoError(t, err)
		assert.Equal(t, "Alice left the chat", decode[chat.MembershipNotice](t, left).Message)
		assert.Equal(t, []string{"u2"}, userIDs(lastRoster(t, bobSink, chat.EventOnlineUsersUpdated).Users))

		presence := lastRoster(t, bobSink, chat.EventPresenceUpdated)
		assert.Equal(t, 2, presence.Count, "leaving the room keeps presence")

		st := h.stats()
		assert.Equal(t, 2, st.Online)
		assert.Equal(t, 1, st.RoomMembers)
	})

	t.Run("idempotent", func(t *testing.T) {
		h := newHarness(t)
		conn, sink := h.joined(alice)
		require.NoError(t, h.engine.LeaveRoom(h.ctx, conn, "u1"))
		sink.Reset()

		require.NoError(t, h.engine.LeaveRoom(h.ctx, conn, "u1"))
		assert.Empty(t, sink.Frames())
	})

	t.Run("mismatched user is ignored", func(t *testing.T) {
		h := newHarness(t)
		conn, sink := h.joined(alice)
		sink.Reset()

		require.NoError(t, h.engine.LeaveRoom(h.ctx, conn, "u2"))
		assert.Empty(t, sink.Frames())
		assert.Equal(t, 1, h.stats().RoomMembers)
	})

	t.Run("never joined", func(t *testing.T) {
		h := newHarness(t)
		conn, sink := h.connect()

		require.NoError(t, h.engine.LeaveRoom(h.ctx, conn, ""))
		assert.Empty(t, sink.Frames())
	})
}

func TestSendMessage(t *testing.T) {
	t.Run("requires a bound identity", func(t *testing.T) {
		h := newHarness(t)
		conn, _ := h.connect()

		_, err := h.engine.SendMessage(h.ctx, conn, "hello", chat.KindUser, false)
		assert.ErrorIs(t, err, chat.ErrAuthenticationRequired)

		_, err = h.engine.SendMessage(h.ctx, conn, "", chat.KindUser, false)
		assert.ErrorIs(t, err, chat.ErrAuthenticationRequired, "authentication is checked before validation")
	})

	t.Run("rejects empty and oversized text", func(t *testing.T) {
		h := newHarness(t)
		conn, sink := h.joined(alice)
		sink.Reset()

		for _, text := range []string{"", "   \n\t", strings.Repeat("x", chat.MaxMessageLength+1)} {
			_, err := h.engine.SendMessage(h.ctx, conn, text, chat.KindUser, false)
			assert.ErrorIs(t, err, chat.ErrValidation)
		}

		recent, err := h.store.ListRecent(h.ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, recent, "nothing is appended")
		assert.Empty(t, sink.Frames(), "nothing is broadcast")
	})

	t.Run("accepts the maximum length counted in characters", func(t *testing.T) {
		h := newHarness(t)
		conn, _ := h.joined(alice)

		msg, err := h.engine.SendMessage(h.ctx, conn, strings.Repeat("é", chat.MaxMessageLength), chat.KindUser, false)
		require.NoError(t, err)
		assert.Equal(t, chat.MaxMessageLength, len([]rune(msg.Text)))
	})

	t.Run("stores trimmed text and broadcasts to the room", func(t *testing.T) {
		h := newHarness(t)
		conn, sink := h.joined(alice)
		_, bobSink := h.joined(bob)
		outsider, outsiderSink := h.connect()
		require.NoError(t, h.engine.RegisterPresence(h.ctx, outsider, "adm"))

		msg, err := h.engine.SendMessage(h.ctx, conn, "  hello  ", chat.KindUser, false)
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "hello", msg.Text)
		assert.False(t, msg.CreatedAt.IsZero())

		for _, s := range []*testhelpers.RecordingSink{sink, bobSink} {
			f, err := s.Last(chat.EventNewMessage)
			require.NoError(t, err)
			got := decode[chat.Message](t, f)
			assert.Equal(t, msg.ID, got.ID)
			assert.Equal(t, "Alice", got.Username)
		}
		assert.Empty(t, outsiderSink.Named(chat.EventNewMessage), "presence alone does not receive room traffic")
	})
}

func TestSendMessageNormalizesKind(t *testing.T) {
	h := newHarness(t)
	user, _ := h.joined(alice)
	admin, _ := h.joined(root)

	msg, err := h.engine.SendMessage(h.ctx, user, "psst", chat.KindAdmin, true)
	require.NoError(t, err)
	assert.Equal(t, chat.KindUser, msg.Kind)
	assert.False(t, msg.IsNotice)

	msg, err = h.engine.SendMessage(h.ctx, admin, "hi", chat.KindUser, false)
	require.NoError(t, err)
	assert.Equal(t, chat.KindAdmin, msg.Kind)

	msg, err = h.engine.SendMessage(h.ctx, admin, "maintenance at noon", chat.KindNotice, true)
	require.NoError(t, err)
	assert.Equal(t, chat.KindNotice, msg.Kind)
	assert.True(t, msg.IsNotice)
}

func TestSendMessageAutoJoins(t *testing.T) {
	h := newHarness(t)
	_, bobSink := h.joined(bob)
	conn, sink := h.connect()
	require.NoError(t, h.engine.RegisterPresence(h.ctx, conn, "u1"))
	bobSink.Reset()
	sink.Reset()

	_, err := h.engine.SendMessage(h.ctx, conn, "", chat.KindUser, false)
	require.ErrorIs(t, err, chat.ErrValidation)
	assert.Equal(t, 1, h.stats().RoomMembers, "a rejected message does not auto-join")

	_, err = h.engine.SendMessage(h.ctx, conn, "hello", chat.KindUser, false)
	require.NoError(t, err)

	require.Len(t, bobSink.Named(chat.EventUserJoined), 1)
	require.Len(t, bobSink.Named(chat.EventNewMessage), 1)
	require.Len(t, sink.Named(chat.EventNewMessage), 1, "the sender is in the room now")
	assert.Empty(t, sink.Named(chat.EventRecentMessages), "auto-join skips the backlog")

	st := h.stats()
	assert.Equal(t, 2, st.RoomMembers)
	assert.Equal(t, uint64(1), st.AutoJoins)
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t)
	author, authorSink := h.joined(alice)
	other, _ := h.joined(bob)
	admin, _ := h.joined(root)

	msg, err := h.engine.SendMessage(h.ctx, author, "oops", chat.KindUser, false)
	require.NoError(t, err)

	err = h.engine.DeleteMessage(h.ctx, other, msg.ID)
	assert.ErrorIs(t, err, chat.ErrAuthorizationDenied)

	require.NoError(t, h.engine.DeleteMessage(h.ctx, author, msg.ID))
	f, err := authorSink.Last(chat.EventMessageDeleted)
	require.NoError(t, err)
	notice := decode[chat.DeletedNotice](t, f)
	assert.Equal(t, msg.ID, notice.MessageID)
	assert.Equal(t, "u1", notice.DeletedBy)

	err = h.engine.DeleteMessage(h.ctx, admin, msg.ID)
	assert.ErrorIs(t, err, chat.ErrNotFound, "already deleted")

	err = h.engine.DeleteMessage(h.ctx, admin, "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	stored, err := h.store.Get(h.ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
	assert.Equal(t, "u1", stored.DeletedBy)
	require.NotNil(t, stored.DeletedAt)

	// Deleted messages stay out of the backlog.
	_, late := h.joined(bob)
	backlog, err := late.Last(chat.EventRecentMessages)
	require.NoError(t, err)
	assert.Empty(t, decode[[]chat.Message](t, backlog))
}

func TestDeleteMessageByAdmin(t *testing.T) {
	h := newHarness(t)
	author, _ := h.joined(alice)
	admin, adminSink := h.joined(root)

	msg, err := h.engine.SendMessage(h.ctx, author, "spam", chat.KindUser, false)
	require.NoError(t, err)

	require.NoError(t, h.engine.DeleteMessage(h.ctx, admin, msg.ID))
	f, err := adminSink.Last(chat.EventMessageDeleted)
	require.NoError(t, err)
	assert.Equal(t, "adm", decode[chat.DeletedNotice](t, f).DeletedBy)
}

func TestDeleteMessageRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.connect()

	err := h.engine.DeleteMessage(h.ctx, conn, "anything")
	assert.ErrorIs(t, err, chat.ErrAuthenticationRequired)
}

func TestClearAllMessages(t *testing.T) {
	h := newHarness(t)
	user, userSink := h.joined(alice)
	admin, _ := h.joined(root)

	_, err := h.engine.SendMessage(h.ctx, user, "one", chat.KindUser, false)
	require.NoError(t, err)

	err = h.engine.ClearAllMessages(h.ctx, user)
	assert.ErrorIs(t, err, chat.ErrAuthorizationDenied)

	require.NoError(t, h.engine.ClearAllMessages(h.ctx, admin))
	f, err := userSink.Last(chat.EventChatCleared)
	require.NoError(t, err)
	assert.Equal(t, "Root", decode[chat.ClearedNotice](t, f).ClearedBy)

	recent, err := h.store.ListRecent(h.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestTypingIsRelayedToOthersInRoom(t *testing.T) {
	h := newHarness(t)
	conn, sink := h.joined(alice)
	_, bobSink := h.joined(bob)
	idle, idleSink := h.connect()
	require.NoError(t, h.engine.RegisterPresence(h.ctx, idle, "adm"))

	require.NoError(t, h.engine.TypingStart(h.ctx, conn))
	require.NoError(t, h.engine.TypingStop(h.ctx, conn))

	assert.Empty(t, sink.Named(chat.EventUserTyping), "the typist is excluded")
	assert.Empty(t, idleSink.Named(chat.EventUserTyping))
	require.Len(t, bobSink.Named(chat.EventUserTyping), 1)
	require.Len(t, bobSink.Named(chat.EventUserStopTyping), 1)
	assert.Equal(t, "u1", decode[chat.TypingNotice](t, bobSink.Named(chat.EventUserTyping)[0]).UserID)

	// The typist's other connections are excluded too.
	second, secondSink := h.connect()
	require.NoError(t, h.engine.JoinRoom(h.ctx, second, "u1"))
	bobSink.Reset()
	require.NoError(t, h.engine.TypingStart(h.ctx, conn))
	assert.Empty(t, secondSink.Named(chat.EventUserTyping))
	require.Len(t, bobSink.Named(chat.EventUserTyping), 1)

	// Outside the room typing is dropped.
	bobSink.Reset()
	require.NoError(t, h.engine.TypingStart(h.ctx, idle))
	assert.Empty(t, bobSink.Frames())
}

func TestMultipleConnectionsPerUser(t *testing.T) {
	h := newHarness(t)
	_, bobSink := h.joined(bob)

	first, _ := h.joined(alice)
	second, secondSink := h.connect()
	require.NoError(t, h.engine.JoinRoom(h.ctx, second, "u1"))

	assert.Len(t, bobSink.Named(chat.EventUserJoined), 2, "bob himself, then alice once")
	assert.NotEmpty(t, secondSink.Named(chat.EventRecentMessages))

	st := h.stats()
	assert.Equal(t, 3, st.Connections)
	assert.Equal(t, 2, st.Online)
	assert.Equal(t, 2, st.RoomMembers)

	bobSink.Reset()
	require.NoError(t, h.engine.Disconnect(h.ctx, first))
	assert.Empty(t, bobSink.Named(chat.EventUserLeft), "alice still has a connection in the room")

	require.NoError(t, h.engine.Disconnect(h.ctx, second))
	require.Len(t, bobSink.Named(chat.EventUserLeft), 1)
	assert.Equal(t, []string{"u2"}, userIDs(lastRoster(t, bobSink, chat.EventPresenceUpdated).Users))
}

func TestRebindingToAnotherUserLeavesTheRoom(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.joined(alice)
	_, bobSink := h.joined(bob)
	bobSink.Reset()

	require.NoError(t, h.engine.RegisterPresence(h.ctx, conn, "adm"))

	left, err := bobSink.Last(chat.EventUserLeft)
	require.NoError(t, err)
	assert.Equal(t, "u1", decode[chat.MembershipNotice](t, left).UserID)

	presence := lastRoster(t, bobSink, chat.EventPresenceUpdated)
	assert.Equal(t, []string{"u2", "adm"}, userIDs(presence.Users))
}

func TestDisconnectCleansUp(t *testing.T) {
	h := newHarness(t)
	conn, _ := h.joined(alice)
	_, bobSink := h.joined(bob)
	bobSink.Reset()

	require.NoError(t, h.engine.Disconnect(h.ctx, conn))

	require.Len(t, bobSink.Named(chat.EventUserLeft), 1)
	presence := lastRoster(t, bobSink, chat.EventPresenceUpdated)
	assert.Equal(t, 1, presence.Count)

	online, err := h.engine.ListOnline(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, userIDs(online))

	_, err = h.engine.SendMessage(h.ctx, conn, "ghost", chat.KindUser, false)
	assert.ErrorIs(t, err, chat.ErrConnectionClosed)
}

func TestSlowConsumerIsEvicted(t *testing.T) {
	h := newHarness(t)
	slow, slowSink := h.joined(alice)
	conn, sink := h.joined(bob)
	sink.Reset()

	slowSink.Refuse()
	_, err := h.engine.SendMessage(h.ctx, conn, "anyone there?", chat.KindUser, false)
	require.NoError(t, err)

	assert.True(t, slowSink.Closed())
	require.Len(t, sink.Named(chat.EventUserLeft), 1)

	st := h.stats()
	assert.Equal(t, 1, st.Connections)
	assert.Equal(t, 1, st.RoomMembers)

	require.NoError(t, h.engine.Disconnect(h.ctx, slow), "disconnect after eviction is a no-op")
}

func TestReplyOnlineUsersIsUnicast(t *testing.T) {
	h := newHarness(t)
	conn, sink := h.joined(alice)
	_, bobSink := h.joined(bob)
	sink.Reset()
	bobSink.Reset()

	require.NoError(t, h.engine.ReplyOnlineUsers(h.ctx, conn))

	assert.Equal(t, []string{chat.EventPresenceUpdated}, sink.Events())
	assert.Empty(t, bobSink.Frames())
	assert.Equal(t, 2, lastRoster(t, sink, chat.EventPresenceUpdated).Count)
}

func TestReportError(t *testing.T) {
	h := newHarness(t)
	conn, sink := h.connect()

	require.NoError(t, h.engine.ReportError(h.ctx, conn, chat.ErrAuthenticationRequired))
	require.NoError(t, h.engine.ReportError(h.ctx, conn, errors.New("disk on fire")))
	require.NoError(t, h.engine.ReportError(h.ctx, conn, chat.ErrConnectionClosed))

	frames := sink.Named(chat.EventError)
	require.Len(t, frames, 2)
	assert.Equal(t, "authentication required", decode[chat.ErrorNotice](t, frames[0]).Message)
	assert.Equal(t, chat.InternalErrorMessage, decode[chat.ErrorNotice](t, frames[1]).Message)
}

func TestEngineShutdownClosesSinks(t *testing.T) {
	h := newHarness(t)
	conn, sink := h.joined(alice)

	h.cancel()
	select {
	case <-h.engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	assert.True(t, sink.Closed())
	_, err := h.engine.SendMessage(h.ctx, conn, "late", chat.KindUser, false)
	assert.ErrorIs(t, err, chat.ErrEngineStopped)
}

func TestScenarios(t *testing.T) {
	t.Run("user message is broadcast as user kind", func(t *testing.T) {
		h := newHarness(t)
		conn, sink := h.connect()
		require.NoError(t, h.engine.RegisterPresence(h.ctx, conn, "u1"))
		require.NoError(t, h.engine.JoinRoom(h.ctx, conn, "u1"))

		_, err := h.engine.SendMessage(h.ctx, conn, "hello", chat.ParseKind(""), false)
		require.NoError(t, err)

		frames := sink.Named(chat.EventNewMessage)
		require.Len(t, frames, 1)
		assert.Equal(t, chat.KindUser, decode[chat.Message](t, frames[0]).Kind)
	})

	t.Run("admin user kind is promoted", func(t *testing.T) {
		h := newHarness(t)
		admin, sink := h.joined(root)

		_, err := h.engine.SendMessage(h.ctx, admin, "hi", chat.ParseKind("user"), false)
		require.NoError(t, err)

		f, err := sink.Last(chat.EventNewMessage)
		require.NoError(t, err)
		assert.Equal(t, chat.KindAdmin, decode[chat.Message](t, f).Kind)
	})

	t.Run("disconnect leaves the room and the online list", func(t *testing.T) {
		h := newHarness(t)
		first, _ := h.joined(alice)
		second, secondSink := h.joined(bob)

		require.NoError(t, h.engine.Disconnect(h.ctx, first))
		left, err := secondSink.Last(chat.EventUserLeft)
		require.NoError(t, err)
		assert.Equal(t, "u1", decode[chat.MembershipNotice](t, left).UserID)

		secondSink.Reset()
		require.NoError(t, h.engine.ReplyOnlineUsers(h.ctx, second))
		assert.Equal(t, []string{"u2"}, userIDs(lastRoster(t, secondSink, chat.EventPresenceUpdated).Users))
	})

	t.Run("clear empties the backlog", func(t *testing.T) {
		h := newHarness(t)
		admin, adminSink := h.joined(root)
		_, err := h.engine.SendMessage(h.ctx, admin, "soon gone", chat.KindUser, false)
		require.NoError(t, err)

		require.NoError(t, h.engine.ClearAllMessages(h.ctx, admin))
		require.Len(t, adminSink.Named(chat.EventChatCleared), 1)

		_, late := h.joined(alice)
		f, err := late.Last(chat.EventRecentMessages)
		require.NoError(t, err)
		assert.Empty(t, decode[[]chat.Message](t, f))
	})
}
