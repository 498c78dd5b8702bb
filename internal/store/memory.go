// Package store provides MessageStore implementations: an in-process store,
// a SQLite store built on gorm and a Redis store.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Memory keeps messages in process memory. Messages are lost on restart.
type Memory struct {
	mu       sync.RWMutex
	messages []chat.Message
	index    map[string]int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{index: make(map[string]int)}
}

var _ chat.MessageStore = (*Memory)(nil)

// Append implements chat.MessageStore.
func (m *Memory) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	prepare(&msg)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index[msg.ID]; exists {
		return chat.Message{}, fmt.Errorf("message %s already exists", msg.ID)
	}
	m.index[msg.ID] = len(m.messages)
	m.messages = append(m.messages, msg)
	return msg, nil
}

// Get implements chat.MessageStore.
func (m *Memory) Get(_ context.Context, id string) (chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[id]
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: %s", chat.ErrNotFound, id)
	}
	return m.messages[i], nil
}

// SoftDelete implements chat.MessageStore.
func (m *Memory) SoftDelete(_ context.Context, id, byUserID string) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[id]
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: %s", chat.ErrNotFound, id)
	}
	markDeleted(&m.messages[i], byUserID)
	return m.messages[i], nil
}

// ListRecent implements chat.MessageStore.
func (m *Memory) ListRecent(_ context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]chat.Message, 0, min(limit, len(m.messages)))
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if !m.messages[i].Deleted {
			out = append(out, m.messages[i])
		}
	}
	return out, nil
}

// PurgeAll implements chat.MessageStore.
func (m *Memory) PurgeAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = nil
	m.index = make(map[string]int)
	return nil
}

// prepare fills in the fields a store owns.
func prepare(msg *chat.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Deleted = false
	msg.DeletedBy = ""
	msg.DeletedAt = nil
}

func markDeleted(msg *chat.Message, byUserID string) {
	now := time.Now().UTC()
	msg.Deleted = true
	msg.DeletedBy = byUserID
	msg.DeletedAt = &now
}
