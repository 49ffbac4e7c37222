// ABOUTME: In-memory fan-out of persisted transcript messages for cross-connection awareness
// ABOUTME: Connections bound to the same chat see each other's messages without polling

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/research-gateway/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventBroadcaster provides in-memory pub/sub for persisted messages.
// Subscribers register for a chat id and receive messages as they are
// appended by other connections.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Message // chatID -> subID -> ch
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *store.Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for messages on the given chat.
// Returns a channel that receives messages and a subscription ID for later
// unsubscription. The subscription is cleaned up when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, chatID string) (<-chan *store.Message, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[chatID]; !ok {
		b.subscribers[chatID] = make(map[string]chan *store.Message)
	}
	b.subscribers[chatID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "chat_id", chatID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(chatID, subID)
	}()

	return ch, subID
}

// Publish sends a message to all subscribers of the chat except
// excludeSubID. Non-blocking: messages are dropped for subscribers whose
// channels are full.
func (b *EventBroadcaster) Publish(chatID string, msg *store.Message, excludeSubID string) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; every send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[chatID] {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- msg:
		default:
			b.logger.Debug("dropped message for slow subscriber",
				"chat_id", chatID,
				"message_id", msg.ID)
		}
	}
}

// SubscriberCount returns the number of subscribers for a chat.
func (b *EventBroadcaster) SubscriberCount(chatID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[chatID])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(chatID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[chatID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, chatID)
	}

	b.logger.Debug("subscriber removed", "chat_id", chatID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for chatID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, chatID)
	}

	b.logger.Debug("broadcaster closed")
}
