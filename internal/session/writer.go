// ABOUTME: Single ordered write path for one connection
// ABOUTME: A bounded queue drained by one goroutine; sends after close are suppressed

package session

import (
	"log/slog"
	"sync"

	"github.com/2389/research-gateway/internal/metrics"
	"github.com/2389/research-gateway/internal/protocol"
)

type outFrame struct {
	typ  string
	data []byte
}

// writer owns the transport's write side. Every outbound event for a
// connection goes through Send, so frames reach the wire in the order they
// were queued.
type writer struct {
	transport Transport
	queue     chan outFrame
	dead      chan struct{}
	finished  chan struct{}
	once      sync.Once
	onFail    func(error)
	logger    *slog.Logger

	mu     sync.Mutex
	failed bool
}

func newWriter(t Transport, size int, onFail func(error), logger *slog.Logger) *writer {
	if size < 1 {
		size = DefaultWriteQueueSize
	}
	return &writer{
		transport: t,
		queue:     make(chan outFrame, size),
		dead:      make(chan struct{}),
		finished:  make(chan struct{}),
		onFail:    onFail,
		logger:    logger,
	}
}

// Send encodes ev and queues it. It blocks while the queue is full and
// returns false once the writer has stopped.
func (w *writer) Send(ev protocol.Event) bool {
	select {
	case <-w.dead:
		return false
	default:
	}

	f := outFrame{typ: protocol.FrameType(ev), data: protocol.Encode(ev)}
	select {
	case w.queue <- f:
		return true
	case <-w.dead:
		return false
	}
}

func (w *writer) run() {
	defer close(w.finished)
	for {
		select {
		case f := <-w.queue:
			if !w.write(f) {
				return
			}
		case <-w.dead:
			if !w.hasFailed() {
				w.drain()
			}
			return
		}
	}
}

// drain flushes frames that were queued before Close.
func (w *writer) drain() {
	for {
		select {
		case f := <-w.queue:
			if !w.write(f) {
				return
			}
		default:
			return
		}
	}
}

func (w *writer) write(f outFrame) bool {
	if err := w.transport.WriteFrame(f.data); err != nil {
		w.mu.Lock()
		w.failed = true
		w.mu.Unlock()
		w.stop()
		w.logger.Debug("write failed", "frame_type", f.typ, "error", err)
		if w.onFail != nil {
			w.onFail(err)
		}
		return false
	}
	metrics.RecordFrameOut(f.typ)
	return true
}

func (w *writer) hasFailed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

func (w *writer) stop() {
	w.once.Do(func() { close(w.dead) })
}

// Close stops accepting frames, flushes what is queued, and waits for the
// write goroutine to exit.
func (w *writer) Close() {
	w.stop()
	<-w.finished
}
