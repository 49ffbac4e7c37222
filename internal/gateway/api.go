// ABOUTME: HTTP API handlers for chats, transcripts, reports and live sessions
// ABOUTME: Request/response surface that works independently of the streaming connection

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/2389/research-gateway/internal/conversation"
	"github.com/2389/research-gateway/internal/store"
)

// maxChatIDLen mirrors the limit on chat ids sent over the socket.
const maxChatIDLen = 128

// maxTitleLen bounds titles set through the API.
const maxTitleLen = 200

// ChatRequest is the JSON body for POST /api/chats and PATCH /api/chats/{id}.
type ChatRequest struct {
	Title string `json:"title"`
}

// ChatResponse is the JSON response for chat creation and rename.
type ChatResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DeleteChatResponse is the JSON response for DELETE /api/chats/{id}.
type DeleteChatResponse struct {
	Status  string `json:"status"`
	Deleted int64  `json:"deleted"`
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendStoreError maps a conversation error onto an HTTP status.
func (g *Gateway) sendStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, conversation.ErrStoreUnavailable) {
		g.logger.Error(op+" failed", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	g.logger.Error(op+" failed", "error", err)
	g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// decodeChatRequest reads an optional ChatRequest body. An empty body is a
// zero request.
func decodeChatRequest(r *http.Request) (*ChatRequest, error) {
	var req ChatRequest
	if r.Body == nil {
		return &req, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if utf8.RuneCountInString(req.Title) > maxTitleLen {
		return nil, errors.New("title is too long")
	}
	return &req, nil
}

// handleChats routes /api/chats by HTTP method.
func (g *Gateway) handleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListChats(w, r)
	case http.MethodPost:
		g.handleCreateChat(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListChats handles GET /api/chats.
// Returns every chat, most recently updated first.
func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := g.conversation.ListChats(r.Context())
	if err != nil {
		g.sendStoreError(w, "list chats", err)
		return
	}
	if chats == nil {
		chats = []*store.Chat{}
	}
	g.sendJSON(w, http.StatusOK, chats)
}

// handleCreateChat handles POST /api/chats with an optional {"title"} body.
func (g *Gateway) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := g.conversation.CreateChat(r.Context(), req.Title)
	if err != nil {
		g.sendStoreError(w, "create chat", err)
		return
	}
	g.sendJSON(w, http.StatusOK, ChatResponse{ID: chat.ID, Title: chat.Title})
}

// handleChatRoutes handles /api/chats/{id} and /api/chats/{id}/messages.
func (g *Gateway) handleChatRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	chatID, sub, _ := strings.Cut(rest, "/")

	if chatID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	if len(chatID) > maxChatIDLen {
		g.sendJSONError(w, http.StatusBadRequest, "invalid chat_id")
		return
	}

	switch sub {
	case "":
		switch r.Method {
		case http.MethodDelete:
			g.handleDeleteChat(w, r, chatID)
		case http.MethodPatch:
			g.handleRenameChat(w, r, chatID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "messages":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleChatMessages(w, r, chatID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleChatMessages handles GET /api/chats/{id}/messages.
// An unknown chat has no messages.
func (g *Gateway) handleChatMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	msgs, err := g.conversation.ListMessages(r.Context(), chatID)
	if err != nil {
		g.sendStoreError(w, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	g.sendJSON(w, http.StatusOK, msgs)
}

// handleDeleteChat handles DELETE /api/chats/{id}. Deleting a chat that
// does not exist succeeds with zero rows deleted.
func (g *Gateway) handleDeleteChat(w http.ResponseWriter, r *http.Request, chatID string) {
	n, err := g.conversation.DeleteChat(r.Context(), chatID)
	if err != nil {
		g.sendStoreError(w, "delete chat", err)
		return
	}
	g.logger.Info("chat deleted", "chat_id", chatID, "rows", n)
	g.sendJSON(w, http.StatusOK, DeleteChatResponse{Status: "deleted", Deleted: n})
}

// handleRenameChat handles PATCH /api/chats/{id} with a {"title"} body.
func (g *Gateway) handleRenameChat(w http.ResponseWriter, r *http.Request, chatID string) {
	req, err := decodeChatRequest(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title == "" {
		g.sendJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	err = g.conversation.RenameChat(r.Context(), chatID, req.Title)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		g.sendStoreError(w, "rename chat", err)
		return
	}
	g.sendJSON(w, http.StatusOK, ChatResponse{ID: chatID, Title: req.Title})
}

// handleSessions handles GET /api/sessions, listing live connections.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, g.sessions.Registry().Snapshot())
}

// withCORS adds CORS headers to API responses and answers preflight requests.
func (g *Gateway) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		if origin := r.Header.Get("Origin"); origin != "" {
			allowed := g.config.Server.AllowedOrigins
			if len(allowed) == 0 || originAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
