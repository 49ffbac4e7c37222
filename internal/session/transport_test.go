// ABOUTME: In-memory transport used by session tests
// ABOUTME: Lets a test act as the client side of a connection

package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errPipeClosed = errors.New("pipe closed")

type pipeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipe() *pipeTransport {
	return &pipeTransport{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 4096),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-p.in:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-p.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) WriteFrame(data []byte) error {
	select {
	case <-p.closed:
		return errPipeClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return errPipeClosed
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// client is the test's end of a pipe.
type client struct {
	t    *testing.T
	pipe *pipeTransport
}

func (c *client) send(frame map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(c.t, err)
	c.pipe.in <- data
}

func (c *client) sendRaw(data string) {
	c.pipe.in <- []byte(data)
}

// disconnect simulates the peer going away.
func (c *client) disconnect() {
	close(c.pipe.in)
}

func (c *client) next() map[string]any {
	c.t.Helper()
	select {
	case data := <-c.pipe.out:
		var frame map[string]any
		require.NoError(c.t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(5 * time.Second):
		c.t.Fatal("timed out waiting for frame")
		return nil
	}
}

// until reads frames up to and including the first one matching pred.
func (c *client) until(pred func(map[string]any) bool) []map[string]any {
	c.t.Helper()
	var frames []map[string]any
	for {
		f := c.next()
		frames = append(frames, f)
		if pred(f) {
			return frames
		}
	}
}

// quiet asserts that no frame arrives within d.
func (c *client) quiet(d time.Duration) {
	c.t.Helper()
	select {
	case data := <-c.pipe.out:
		c.t.Fatalf("unexpected frame: %s", data)
	case <-time.After(d):
	}
}

func isType(typ string) func(map[string]any) bool {
	return func(f map[string]any) bool { return f["type"] == typ }
}

func isEvent(name string) func(map[string]any) bool {
	return func(f map[string]any) bool { return f["type"] == "event" && f["event"] == name }
}

func isFinalState(f map[string]any) bool {
	if f["type"] != "state" {
		return false
	}
	data, _ := f["data"].(map[string]any)
	return data["is_researching"] == false
}

// label renders a frame as "type" or "event:name" for order assertions.
func label(f map[string]any) string {
	if f["type"] == "event" {
		return "event:" + f["event"].(string)
	}
	return f["type"].(string)
}
