// ABOUTME: Service is the asynchronous persistence layer for transcripts and reports
// ABOUTME: Every store and archive call runs on the bounded worker pool, never on a socket goroutine

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/research-gateway/internal/archive"
	"github.com/2389/research-gateway/internal/metrics"
	"github.com/2389/research-gateway/internal/store"
	"github.com/2389/research-gateway/internal/workpool"
)

// ErrStoreUnavailable wraps persistence failures that are not part of the
// store contract (I/O errors, closed database, exhausted pool).
var ErrStoreUnavailable = errors.New("store unavailable")

// DefaultTitle is used for chats created without a title.
const DefaultTitle = "New Research"

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateChat(ctx context.Context, chat *store.Chat) error
	GetChat(ctx context.Context, id string) (*store.Chat, error)
	UpdateChatTitle(ctx context.Context, id, title string) error
	AppendMessage(ctx context.Context, msg *store.Message) error
	ListChats(ctx context.Context) ([]*store.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]*store.Message, error)
	DeleteChat(ctx context.Context, id string) (int64, error)
	Ping(ctx context.Context) error
}

// ReportArchive defines what the service needs from the report archive
type ReportArchive interface {
	Save(chatID string, at time.Time, query, body string) (string, error)
	Read(name string) (*archive.Report, error)
	Raw(name string) ([]byte, error)
}

// Service runs transcript and archive operations on a worker pool and
// publishes appended messages to the broadcaster.
type Service struct {
	store       ConversationStore
	archive     ReportArchive
	pool        *workpool.Pool
	broadcaster *EventBroadcaster
	logger      *slog.Logger
}

// New creates a new Service. broadcaster may be nil.
func New(st ConversationStore, ar ReportArchive, pool *workpool.Pool, broadcaster *EventBroadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		archive:     ar,
		pool:        pool,
		broadcaster: broadcaster,
		logger:      logger.With("component", "conversation"),
	}
}

// Broadcaster returns the service's broadcaster, or nil.
func (s *Service) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// AppendRequest describes a transcript message to persist.
type AppendRequest struct {
	ChatID     string
	Role       string
	Content    string
	ReportPath string
	// Origin is the broadcaster subscription of the requesting connection;
	// it does not receive its own message back.
	Origin string
}

// CreateChat creates a chat with a generated id.
func (s *Service) CreateChat(ctx context.Context, title string) (*store.Chat, error) {
	if title == "" {
		title = DefaultTitle
	}
	chat := &store.Chat{Title: title}
	err := s.do(ctx, "create_chat", func(ctx context.Context) error {
		return s.store.CreateChat(ctx, chat)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("chat created", "chat_id", chat.ID)
	return chat, nil
}

// EnsureChat returns the chat with the given id, creating it with title if
// it does not exist yet.
func (s *Service) EnsureChat(ctx context.Context, id, title string) (*store.Chat, error) {
	if title == "" {
		title = DefaultTitle
	}
	return call(ctx, s, "ensure_chat", func(ctx context.Context) (*store.Chat, error) {
		chat, err := s.store.GetChat(ctx, id)
		if err == nil {
			return chat, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		chat = &store.Chat{ID: id, Title: title}
		if err := s.store.CreateChat(ctx, chat); err != nil {
			// Handle race condition: another connection may have created the
			// chat between our lookup and insert attempt
			if errors.Is(err, store.ErrDuplicateChat) {
				existing, lookupErr := s.store.GetChat(ctx, id)
				if lookupErr == nil {
					return existing, nil
				}
				s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
			}
			return nil, err
		}
		s.logger.Debug("chat created", "chat_id", id)
		return chat, nil
	})
}

// RenameChat changes a chat's title.
func (s *Service) RenameChat(ctx context.Context, id, title string) error {
	return s.do(ctx, "rename_chat", func(ctx context.Context) error {
		return s.store.UpdateChatTitle(ctx, id, title)
	})
}

// AppendMessage persists a transcript message and publishes it to other
// connections bound to the same chat.
func (s *Service) AppendMessage(ctx context.Context, req AppendRequest) (*store.Message, error) {
	msg := &store.Message{
		ChatID:     req.ChatID,
		Role:       req.Role,
		Content:    req.Content,
		ReportPath: req.ReportPath,
	}
	err := s.do(ctx, "append_message", func(ctx context.Context) error {
		return s.store.AppendMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	if s.broadcaster != nil {
		s.broadcaster.Publish(req.ChatID, msg, req.Origin)
	}
	return msg, nil
}

// ListChats returns every chat, most recently updated first.
func (s *Service) ListChats(ctx context.Context) ([]*store.Chat, error) {
	return call(ctx, s, "list_chats", s.store.ListChats)
}

// ListMessages returns a chat's transcript in order.
func (s *Service) ListMessages(ctx context.Context, chatID string) ([]*store.Message, error) {
	return call(ctx, s, "list_messages", func(ctx context.Context) ([]*store.Message, error) {
		return s.store.ListMessages(ctx, chatID)
	})
}

// DeleteChat removes a chat and its messages, returning rows affected.
func (s *Service) DeleteChat(ctx context.Context, id string) (int64, error) {
	return call(ctx, s, "delete_chat", func(ctx context.Context) (int64, error) {
		return s.store.DeleteChat(ctx, id)
	})
}

// SaveReport archives a report and returns its name.
func (s *Service) SaveReport(ctx context.Context, chatID string, at time.Time, query, body string) (string, error) {
	return call(ctx, s, "save_report", func(ctx context.Context) (string, error) {
		return s.archive.Save(chatID, at, query, body)
	})
}

// ReadReport returns a parsed archived report.
func (s *Service) ReadReport(ctx context.Context, name string) (*archive.Report, error) {
	return call(ctx, s, "read_report", func(ctx context.Context) (*archive.Report, error) {
		return s.archive.Read(name)
	})
}

// RawReport returns an archived report file, header included.
func (s *Service) RawReport(ctx context.Context, name string) ([]byte, error) {
	return call(ctx, s, "read_report", func(ctx context.Context) ([]byte, error) {
		return s.archive.Raw(name)
	})
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", s.store.Ping)
}

func (s *Service) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := s.pool.Do(ctx, fn); err != nil {
		return s.classify(op, err)
	}
	return nil
}

func call[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := workpool.Call(ctx, s.pool, fn)
	if err != nil {
		var zero T
		return zero, s.classify(op, err)
	}
	return v, nil
}

// classify passes contract errors through unchanged and wraps everything
// else in ErrStoreUnavailable.
func (s *Service) classify(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrUnknownChat),
		errors.Is(err, store.ErrDuplicateChat),
		errors.Is(err, archive.ErrNotFound),
		errors.Is(err, archive.ErrExists):
		return err
	case errors.Is(err, ErrStoreUnavailable):
		return err
	}

	metrics.RecordPersistenceError(op)
	s.logger.Warn("persistence operation failed", "op", op, "error", err)
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
