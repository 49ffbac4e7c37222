// ABOUTME: End-to-end tests for the WebSocket endpoint using a real dialer
// ABOUTME: Drives research runs through the fake engine and checks frames and transcript

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/research-gateway/internal/engine/fake"
	"github.com/2389/research-gateway/internal/store"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *wsClient) next() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var f map[string]any
	require.NoError(c.t, json.Unmarshal(data, &f))
	return f
}

// until reads frames until match returns true and returns every frame read.
func (c *wsClient) until(match func(map[string]any) bool) []map[string]any {
	c.t.Helper()
	var frames []map[string]any
	for {
		f := c.next()
		frames = append(frames, f)
		if match(f) {
			return frames
		}
	}
}

func isEvent(name string) func(map[string]any) bool {
	return func(f map[string]any) bool {
		return f["type"] == "event" && f["event"] == name
	}
}

func idleState(f map[string]any) bool {
	if f["type"] != "state" {
		return false
	}
	data, _ := f["data"].(map[string]any)
	return data["is_researching"] == false
}

func startServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketResearchRun(t *testing.T) {
	eng := &fake.Engine{Report: "## Result\n\nFusion is hard.\n"}
	gw := newTestGateway(t, nil, eng)
	srv := startServer(t, gw)
	c := dial(t, srv, nil)

	c.send(map[string]any{"type": "message", "sender": "user", "text": "Is fusion close?"})

	frames := c.until(isEvent("research_completed"))
	final := c.until(idleState)
	frames = append(frames, final...)

	types := map[string]int{}
	for _, f := range frames {
		types[f["type"].(string)]++
	}
	assert.Positive(t, types["token"], "tokens streamed")
	assert.Positive(t, types["stream_start"])
	assert.Equal(t, types["stream_start"], types["stream_end"])

	completed := frames[len(frames)-len(final)-1]
	data := completed["data"].(map[string]any)
	assert.Equal(t, "## Result\n\nFusion is hard.\n", data["report"])
	reportPath, _ := data["report_path"].(string)
	require.NotEmpty(t, reportPath)

	state := final[len(final)-1]["data"].(map[string]any)
	chatID, _ := state["chat_id"].(string)
	require.NotEmpty(t, chatID)
	assert.Equal(t, "Research complete!", state["research_status"])

	assert.Equal(t, []string{"Is fusion close?"}, eng.Queries())

	msgs, err := gw.store.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "Is fusion close?", msgs[0].Content)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.NotEmpty(t, msgs[1].ReportPath)

	chat, err := gw.store.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, "Is fusion close?", chat.Title)

	// The report is downloadable through the API
	rec := do(t, gw, httptest.NewRequest(http.MethodGet, "/api/reports/"+msgs[1].ReportPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Fusion is hard.")
}

func TestWebSocketDecodeErrorKeepsConnection(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	srv := startServer(t, gw)
	c := dial(t, srv, nil)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := c.next()
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "decode_error", f["code"])

	c.send(map[string]any{"type": "message", "sender": "user", "text": "   "})
	f = c.next()
	assert.Equal(t, "message", f["type"])
	assert.Equal(t, "Please provide a research query.", f["text"])
}

func TestWebSocketSessionsListed(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	srv := startServer(t, gw)
	c := dial(t, srv, nil)

	chat, err := gw.conversation.CreateChat(context.Background(), "watched")
	require.NoError(t, err)
	c.send(map[string]any{"type": "select_chat", "chat_id": chat.ID})
	c.until(func(f map[string]any) bool { return f["type"] == "state" })

	require.Eventually(t, func() bool {
		return gw.Sessions().Registry().Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := do(t, gw, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, chat.ID, infos[0]["chat_id"])
	assert.Equal(t, false, infos[0]["is_researching"])

	require.NoError(t, c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool {
		return gw.Sessions().Registry().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketOriginRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AllowedOrigins = []string{"https://research.example.com"}
	gw := newTestGateway(t, cfg, nil)
	srv := startServer(t, gw)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	c := dial(t, srv, http.Header{"Origin": []string{"https://research.example.com"}})
	c.send(map[string]any{"type": "message", "sender": "user", "text": ""})
	assert.Equal(t, "message", c.next()["type"])
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://a.example.com/", "http://localhost:3000"}
	assert.True(t, originAllowed(allowed, "https://a.example.com"))
	assert.True(t, originAllowed(allowed, "HTTP://LOCALHOST:3000"))
	assert.False(t, originAllowed(allowed, "https://b.example.com"))
	assert.True(t, originAllowed([]string{"*"}, "https://anything.example"))
}

func TestShutdownCancelsLiveResearch(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	eng := &fake.Engine{Block: block}
	gw := newTestGateway(t, nil, eng)
	srv := startServer(t, gw)
	c := dial(t, srv, nil)

	c.send(map[string]any{"type": "message", "sender": "user", "text": "never finishes"})
	c.until(isEvent("research_started"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gw.Sessions().Shutdown(ctx))

	chats, err := gw.store.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	msgs, err := gw.store.ListMessages(context.Background(), chats[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "cancelled")
}
