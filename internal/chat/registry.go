package chat

import (
	"sort"
	"time"
)

// sessionState is the lifecycle of one connection. States only move forward
// through bind and the room transitions; removal drops the session entirely.
type sessionState int

const (
	stateConnected sessionState = iota
	statePresent
	stateInRoom
)

func (s sessionState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case statePresent:
		return "present"
	case stateInRoom:
		return "in-room"
	default:
		return "unknown"
	}
}

type session struct {
	handle      Handle
	sink        Sink
	remoteAddr  string
	state       sessionState
	user        Identity
	connectedAt time.Time
	boundAt     time.Time

	// While a join is loading its backlog, deliveries are held so the
	// backlog still reaches the client first.
	loading  int
	held     [][]byte
	heldMsgs map[string]struct{}
}

func (s *session) hold() {
	if s.loading == 0 {
		s.heldMsgs = make(map[string]struct{})
	}
	s.loading++
}

// release ends one hold. It returns the ids of messages held for delivery,
// and the held payloads once the last hold ends.
func (s *session) release() (map[string]struct{}, [][]byte) {
	seen := s.heldMsgs
	if s.loading > 0 {
		s.loading--
	}
	if s.loading > 0 {
		return seen, nil
	}
	held := s.held
	s.held, s.heldMsgs = nil, nil
	return seen, held
}

// registry is the single table of live connections. It is only touched from
// the engine's reactor goroutine and therefore holds no lock.
type registry struct {
	byHandle map[Handle]*session
	byUser   map[string]map[Handle]*session
}

func newRegistry() *registry {
	return &registry{
		byHandle: make(map[Handle]*session),
		byUser:   make(map[string]map[Handle]*session),
	}
}

func (r *registry) add(s *session) {
	r.byHandle[s.handle] = s
}

func (r *registry) get(h Handle) (*session, bool) {
	s, ok := r.byHandle[h]
	return s, ok
}

// remove drops the session for h from both indexes.
func (r *registry) remove(h Handle) (*session, bool) {
	s, ok := r.byHandle[h]
	if !ok {
		return nil, false
	}
	delete(r.byHandle, h)
	r.unindex(s)
	return s, true
}

// bind attaches ident to s and promotes a Connected session to Present.
// A session already bound to another user is moved to the new user's index
// and demoted to Present; the caller handles the room side of that move.
func (r *registry) bind(s *session, ident Identity) {
	if s.state != stateConnected && s.user.UserID != ident.UserID {
		r.unindex(s)
		s.state = statePresent
	}
	s.user = ident
	s.boundAt = time.Now()
	if s.state == stateConnected {
		s.state = statePresent
	}

	sessions, ok := r.byUser[ident.UserID]
	if !ok {
		sessions = make(map[Handle]*session)
		r.byUser[ident.UserID] = sessions
	}
	sessions[s.handle] = s
}

func (r *registry) unindex(s *session) {
	if s.state == stateConnected {
		return
	}
	sessions, ok := r.byUser[s.user.UserID]
	if !ok {
		return
	}
	delete(sessions, s.handle)
	if len(sessions) == 0 {
		delete(r.byUser, s.user.UserID)
	}
}

// userInRoom reports whether any session of userID is in the room.
func (r *registry) userInRoom(userID string) bool {
	for _, s := range r.byUser[userID] {
		if s.state == stateInRoom {
			return true
		}
	}
	return false
}

// all returns every live session.
func (r *registry) all() []*session {
	out := make([]*session, 0, len(r.byHandle))
	for _, s := range r.byHandle {
		out = append(out, s)
	}
	return out
}

// inRoom returns every session currently in the room.
func (r *registry) inRoom() []*session {
	var out []*session
	for _, s := range r.byHandle {
		if s.state == stateInRoom {
			out = append(out, s)
		}
	}
	return out
}

// presence builds one entry per reachable user. When a user holds several
// sessions the most recently bound identity wins and InRoom is set if any of
// them is in the room.
func (r *registry) presence() []Presence {
	out := make([]Presence, 0, len(r.byUser))
	for _, sessions := range r.byUser {
		if p, ok := collapse(sessions, false); ok {
			out = append(out, p)
		}
	}
	sortPresence(out)
	return out
}

// roster is presence restricted to users in the room.
func (r *registry) roster() []Presence {
	var out []Presence
	for _, sessions := range r.byUser {
		if p, ok := collapse(sessions, true); ok {
			out = append(out, p)
		}
	}
	sortPresence(out)
	return out
}

func collapse(sessions map[Handle]*session, roomOnly bool) (Presence, bool) {
	var latest *session
	inRoom := false
	for _, s := range sessions {
		if s.state == stateInRoom {
			inRoom = true
		}
		if latest == nil || s.boundAt.After(latest.boundAt) {
			latest = s
		}
	}
	if latest == nil || (roomOnly && !inRoom) {
		return Presence{}, false
	}
	return Presence{
		UserID:   latest.user.UserID,
		Username: latest.user.Username,
		Role:     latest.user.Role,
		InRoom:   inRoom,
	}, true
}

func sortPresence(list []Presence) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Username != list[j].Username {
			return list[i].Username < list[j].Username
		}
		return list[i].UserID < list[j].UserID
	})
}

func (r *registry) stats() Stats {
	return Stats{
		Connections: len(r.byHandle),
		Online:      len(r.byUser),
		RoomMembers: len(r.roster()),
	}
}
