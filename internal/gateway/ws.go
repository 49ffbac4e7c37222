// ABOUTME: WebSocket endpoint and the transport adapter handed to the session manager
// ABOUTME: Maps gorilla/websocket reads, writes and close codes onto session.Transport

package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/research-gateway/internal/protocol"
)

const (
	// defaultWriteTimeout bounds one frame write when none is configured.
	defaultWriteTimeout = 10 * time.Second

	// maxFrameBytes leaves room for JSON escaping of a maximal query.
	maxFrameBytes = 4 * protocol.MaxQueryBytes

	closeGrace = time.Second
)

// wsTransport adapts a WebSocket connection to session.Transport. Writes
// come from the session's single writer; reads from its read loop.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	conn.SetReadLimit(maxFrameBytes)
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

// ReadFrame returns the next message. A clean close by the peer is io.EOF.
// Cancelling ctx interrupts a blocked read.
func (t *wsTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteFrame(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and releases the connection.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = t.conn.Close()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// handleWebSocket upgrades the request and runs a session until the
// connection ends.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		g.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	transport := newWSTransport(conn, g.config.Sessions.WriteTimeout)
	// The request context ends when this handler returns; sessions are
	// cancelled through the manager on shutdown instead.
	if err := g.sessions.Serve(context.WithoutCancel(r.Context()), transport); err != nil {
		g.logger.Debug("session ended", "error", err, "remote_addr", r.RemoteAddr)
	}
}

// checkOrigin accepts same-host requests, requests without an Origin
// header, and origins listed in server.allowed_origins. With no list
// configured every origin is accepted.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := g.config.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	if originAllowed(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
			return true
		}
	}
	return false
}
