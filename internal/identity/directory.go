// Package identity resolves user ids to chat identities. The directory of
// users is owned by the surrounding application; this package only reads it,
// plus the seeding helpers used at startup and in tests.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Directory is an in-memory identity resolver.
type Directory struct {
	mu    sync.RWMutex
	users map[string]chat.Identity
}

var _ chat.IdentityResolver = (*Directory)(nil)

// NewDirectory returns a directory holding users.
func NewDirectory(users ...chat.Identity) *Directory {
	d := &Directory{users: make(map[string]chat.Identity, len(users))}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put adds or replaces a user.
func (d *Directory) Put(u chat.Identity) {
	u = normalizeIdentity(u)
	d.mu.Lock()
	d.users[u.UserID] = u
	d.mu.Unlock()
}

// Remove deletes a user.
func (d *Directory) Remove(userID string) {
	d.mu.Lock()
	delete(d.users, userID)
	d.mu.Unlock()
}

// Resolve implements chat.IdentityResolver.
func (d *Directory) Resolve(_ context.Context, userID string) (chat.Identity, error) {
	d.mu.RLock()
	u, ok := d.users[userID]
	d.mu.RUnlock()
	if !ok {
		return chat.Identity{}, fmt.Errorf("%w: %s", chat.ErrUserNotFound, userID)
	}
	return u, nil
}

func normalizeIdentity(u chat.Identity) chat.Identity {
	u.UserID = strings.TrimSpace(u.UserID)
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		u.Username = u.UserID
	}
	switch chat.Role(strings.ToLower(string(u.Role))) {
	case chat.RoleAdmin:
		u.Role = chat.RoleAdmin
	default:
		u.Role = chat.RoleUser
	}
	return u
}
