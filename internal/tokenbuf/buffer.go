// ABOUTME: Thread-safe bounded FIFO of streamed model tokens.
// ABOUTME: Oldest tokens are evicted first once the buffer reaches capacity.

package tokenbuf

import (
	"container/list"
	"strings"
	"sync"
)

// DefaultCapacity is used when a buffer is created with a non-positive size.
const DefaultCapacity = 1000

// Buffer keeps the most recent tokens of the model call in progress.
// Uses a doubly-linked list in insertion order (oldest at front) for O(1)
// eviction.
type Buffer struct {
	mu      sync.Mutex
	order   *list.List
	maxSize int
	evicted int
}

// New creates a buffer holding at most capacity tokens.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		order:   list.New(),
		maxSize: capacity,
	}
}

// Push appends a token, evicting the oldest entries if the buffer is full.
func (b *Buffer) Push(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.order.Len() >= b.maxSize {
		b.evictOldest()
	}
	b.order.PushBack(token)
}

// evictOldest removes the oldest token. Must be called with mu held.
func (b *Buffer) evictOldest() {
	front := b.order.Front()
	if front == nil {
		return
	}
	b.order.Remove(front)
	b.evicted++
}

// Snapshot returns the buffered tokens, oldest first.
func (b *Buffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, b.order.Len())
	for e := b.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// String joins the buffered tokens.
func (b *Buffer) String() string {
	return strings.Join(b.Snapshot(), "")
}

// Len returns the number of buffered tokens.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order.Len()
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return b.maxSize
}

// Evicted returns how many tokens were dropped since the last Reset.
func (b *Buffer) Evicted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order.Init()
	b.evicted = 0
}
