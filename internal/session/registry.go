// ABOUTME: Registry of live sessions scoped to one Manager
// ABOUTME: Sessions are inserted when a connection is accepted and removed when it closes

package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrSessionExists indicates a connection id is already registered.
var ErrSessionExists = errors.New("session already registered")

// Info describes a live session.
type Info struct {
	ConnID        string    `json:"conn_id"`
	ChatID        string    `json:"chat_id,omitempty"`
	IsResearching bool      `json:"is_researching"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// Registry tracks the sessions of one Manager.
type Registry struct {
	sessions map[string]*session
	mu       sync.RWMutex
	logger   *slog.Logger
}

func newRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

func (r *Registry) add(s *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.id]; exists {
		return ErrSessionExists
	}
	r.sessions[s.id] = s
	r.logger.Info("=== SESSION CONNECTED ===",
		"conn_id", s.id,
		"total_sessions", len(r.sessions),
	)
	return nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		delete(r.sessions, id)
		r.logger.Info("=== SESSION DISCONNECTED ===",
			"conn_id", id,
			"total_sessions", len(r.sessions),
		)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the live sessions, oldest first.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
