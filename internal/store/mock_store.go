// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMockFailure is returned by MockStore operations when FailWith is set
// without an explicit error.
var ErrMockFailure = errors.New("mock store failure")

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	chats    map[string]*Chat      // keyed by chat ID
	messages map[string][]*Message // keyed by chat ID, insertion order
	failErr  error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		chats:    make(map[string]*Chat),
		messages: make(map[string][]*Message),
	}
}

// FailWith makes every subsequent operation return err (ErrMockFailure when
// err is nil) until Recover is called.
func (m *MockStore) FailWith(err error) {
	if err == nil {
		err = ErrMockFailure
	}
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// Recover clears a failure installed by FailWith.
func (m *MockStore) Recover() {
	m.mu.Lock()
	m.failErr = nil
	m.mu.Unlock()
}

// CreateChat stores a new chat.
func (m *MockStore) CreateChat(ctx context.Context, chat *Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	if _, exists := m.chats[chat.ID]; exists {
		return ErrDuplicateChat
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}

	// Make a copy to avoid external modification
	c := *chat
	m.chats[c.ID] = &c
	return nil
}

// GetChat retrieves a chat by ID.
func (m *MockStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}
	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *c
	return &result, nil
}

// UpdateChatTitle renames a chat.
func (m *MockStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	c, ok := m.chats[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendMessage stores a message and bumps the chat's UpdatedAt.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	c, ok := m.chats[msg.ChatID]
	if !ok {
		return ErrUnknownChat
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Timestamp = msg.Timestamp.UTC()

	existing := m.messages[msg.ChatID]
	if n := len(existing); n > 0 && msg.Timestamp.Before(existing[n-1].Timestamp) {
		msg.Timestamp = existing[n-1].Timestamp
	}

	cp := *msg
	m.messages[msg.ChatID] = append(existing, &cp)
	c.UpdatedAt = msg.Timestamp
	return nil
}

// ListChats returns all chats ordered by UpdatedAt descending.
func (m *MockStore) ListChats(ctx context.Context) ([]*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}
	chats := make([]*Chat, 0, len(m.chats))
	for _, c := range m.chats {
		cp := *c
		chats = append(chats, &cp)
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].CreatedAt.After(chats[j].CreatedAt)
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

// ListMessages returns a chat's messages in insertion order, which is also
// timestamp order.
func (m *MockStore) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failErr != nil {
		return nil, m.failErr
	}
	msgs := m.messages[chatID]
	result := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		cp := *msg
		result = append(result, &cp)
	}
	return result, nil
}

// DeleteChat removes a chat and its messages.
func (m *MockStore) DeleteChat(ctx context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return 0, m.failErr
	}
	var n int64
	n += int64(len(m.messages[id]))
	delete(m.messages, id)
	if _, ok := m.chats[id]; ok {
		delete(m.chats, id)
		n++
	}
	return n, nil
}

// Ping reports the configured failure, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failErr
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)
