// ABOUTME: Manager runs one session per live connection
// ABOUTME: Owns the session registry and shuts sessions down with the gateway

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/research-gateway/internal/conversation"
	"github.com/2389/research-gateway/internal/metrics"
	"github.com/2389/research-gateway/internal/orchestrator"
	"github.com/2389/research-gateway/internal/store"
	"github.com/2389/research-gateway/internal/tokenbuf"
)

// ErrShuttingDown is returned by Serve once Shutdown has been called.
var ErrShuttingDown = errors.New("session manager shutting down")

const (
	// DefaultWriteQueueSize bounds the frames waiting for the socket.
	DefaultWriteQueueSize = 256

	// DefaultFrameBurst is the inbound burst allowed when rate limiting.
	DefaultFrameBurst = 5
)

// Transport is one bidirectional frame connection. ReadFrame returns io.EOF
// when the peer closes cleanly.
type Transport interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Conversations is the persistence a session needs.
type Conversations interface {
	CreateChat(ctx context.Context, title string) (*store.Chat, error)
	EnsureChat(ctx context.Context, id, title string) (*store.Chat, error)
	AppendMessage(ctx context.Context, req conversation.AppendRequest) (*store.Message, error)
}

// Runner executes research invocations.
type Runner interface {
	Run(ctx context.Context, inv orchestrator.Invocation) orchestrator.Outcome
}

// Config tunes sessions.
type Config struct {
	// TokenBufferSize is the capacity of each session's token buffer.
	TokenBufferSize int
	// WriteQueueSize bounds each connection's outbound queue.
	WriteQueueSize int
	// MaxFramesPerSecond limits inbound frames. Zero disables limiting.
	MaxFramesPerSecond float64
	FrameBurst         int
}

// Manager creates and tracks sessions.
type Manager struct {
	conv        Conversations
	runner      Runner
	broadcaster *conversation.EventBroadcaster
	cfg         Config
	registry    *Registry
	logger      *slog.Logger

	// base is cancelled by Shutdown and ends every session.
	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Manager. broadcaster may be nil, in which case sessions do
// not receive messages appended by other connections. Pass nil logger for
// default.
func New(conv Conversations, runner Runner, broadcaster *conversation.EventBroadcaster, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenBufferSize < 1 {
		cfg.TokenBufferSize = tokenbuf.DefaultCapacity
	}
	if cfg.WriteQueueSize < 1 {
		cfg.WriteQueueSize = DefaultWriteQueueSize
	}
	if cfg.FrameBurst < 1 {
		cfg.FrameBurst = DefaultFrameBurst
	}
	logger = logger.With("component", "session")
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		base:        base,
		stop:        stop,
		conv:        conv,
		runner:      runner,
		broadcaster: broadcaster,
		cfg:         cfg,
		registry:    newRegistry(logger),
		logger:      logger,
	}
}

// Registry returns the live session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Serve runs one connection until the peer disconnects, the transport fails,
// or ctx is cancelled. A research run still in flight is cancelled and
// recorded before Serve returns. The transport is always closed.
func (m *Manager) Serve(ctx context.Context, t Transport) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = t.Close()
		return ErrShuttingDown
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(m.base, cancel)
	defer stopAfter()

	s := m.newSession(ctx, cancel, t)
	if err := m.registry.add(s); err != nil {
		_ = t.Close()
		return err
	}
	metrics.SessionOpened()
	go s.w.run()

	err := s.readLoop()

	cancel()
	s.runs.Wait()
	s.unsubscribe()
	s.w.Close()
	m.registry.remove(s.id)
	metrics.SessionClosed()
	_ = t.Close()

	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		s.logger.Debug("connection closed")
		return nil
	}
	s.logger.Warn("connection ended with error", "error", err)
	return err
}

func (m *Manager) newSession(ctx context.Context, cancel context.CancelFunc, t Transport) *session {
	id := uuid.New().String()
	logger := m.logger.With("conn_id", id)
	s := &session{
		id:          id,
		ctx:         ctx,
		cancel:      cancel,
		m:           m,
		t:           t,
		tokens:      tokenbuf.New(m.cfg.TokenBufferSize),
		connectedAt: time.Now(),
		logger:      logger,
	}
	s.w = newWriter(t, m.cfg.WriteQueueSize, func(error) { cancel() }, logger)
	if m.cfg.MaxFramesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(m.cfg.MaxFramesPerSecond), m.cfg.FrameBurst)
	}
	return s
}

// Shutdown cancels every live session and waits for them to finish, or
// for ctx to expire. Serve rejects new connections afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
