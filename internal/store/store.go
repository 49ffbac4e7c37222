// ABOUTME: Transcript store interface and data types for research-gateway persistence
// ABOUTME: Defines Chat, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateChat is returned when trying to create a chat whose id already exists
var ErrDuplicateChat = errors.New("chat already exists")

// ErrUnknownChat is returned when appending a message to a chat that does not exist
var ErrUnknownChat = errors.New("unknown chat")

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat is a conversation container. UpdatedAt moves forward whenever a
// message is appended.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single transcript entry. ReportPath is only set on the
// assistant message that concludes a successful research run.
type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	ReportPath string    `json:"report_path,omitempty"`
}

// Store defines the transcript persistence operations.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateChat inserts a new chat. Returns ErrDuplicateChat if the id exists.
	CreateChat(ctx context.Context, chat *Chat) error

	// GetChat retrieves a chat by id. Returns ErrNotFound if missing.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// UpdateChatTitle renames a chat. Returns ErrNotFound if missing.
	UpdateChatTitle(ctx context.Context, id, title string) error

	// AppendMessage inserts a message and bumps the owning chat's updated_at
	// in a single transaction. Returns ErrUnknownChat if the chat is missing.
	// The stored timestamp is never earlier than the chat's latest message.
	AppendMessage(ctx context.Context, msg *Message) error

	// ListChats returns every chat, most recently updated first.
	ListChats(ctx context.Context) ([]*Chat, error)

	// ListMessages returns a chat's messages in timestamp order, ties broken
	// by insertion order.
	ListMessages(ctx context.Context, chatID string) ([]*Message, error)

	// DeleteChat removes a chat and its messages atomically and returns the
	// number of rows removed. Deleting an unknown chat is not an error.
	DeleteChat(ctx context.Context, id string) (int64, error)

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
