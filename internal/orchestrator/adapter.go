// ABOUTME: Adapter drives one research run and turns engine callbacks into client events
// ABOUTME: Owns event ordering, tool output truncation, and end-of-run persistence

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/research-gateway/internal/conversation"
	"github.com/2389/research-gateway/internal/engine"
	"github.com/2389/research-gateway/internal/metrics"
	"github.com/2389/research-gateway/internal/protocol"
	"github.com/2389/research-gateway/internal/store"
	"github.com/2389/research-gateway/internal/tokenbuf"
)

const (
	// GenericSequenceLabel names wrapper chains whose start is not narrated.
	GenericSequenceLabel = "RunnableSequence"

	// NoReportFallback replaces an empty report.
	NoReportFallback = "No report generated"

	// CancelledMessage is persisted when the connection closes mid-run.
	CancelledMessage = "Research cancelled: the client disconnected before completion."

	// persistTimeout bounds end-of-run persistence, which runs detached
	// from the connection context.
	persistTimeout = 5 * time.Second
)

// Sink receives the events of a run in order. Send returns false once the
// connection is gone.
type Sink interface {
	Send(ev protocol.Event) bool
}

// Recorder persists what a run produces.
type Recorder interface {
	SaveReport(ctx context.Context, chatID string, at time.Time, query, body string) (string, error)
	AppendMessage(ctx context.Context, req conversation.AppendRequest) (*store.Message, error)
}

// EngineFailure wraps an error returned by the research engine.
type EngineFailure struct {
	Err error
}

func (e *EngineFailure) Error() string {
	return "research engine failed: " + e.Err.Error()
}

func (e *EngineFailure) Unwrap() error {
	return e.Err
}

// Status is how a run ended.
type Status int

const (
	StatusCompleted Status = iota + 1
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return metrics.OutcomeCompleted
	case StatusFailed:
		return metrics.OutcomeFailed
	case StatusCancelled:
		return metrics.OutcomeCancelled
	}
	return "unknown"
}

// Invocation is one research request.
type Invocation struct {
	RunID  string
	ChatID string
	Query  string
	// Origin is the requesting connection's broadcaster subscription.
	Origin string
	// Tokens, if set, holds the tokens of the current model call. It is
	// cleared when a model call starts and when it ends.
	Tokens *tokenbuf.Buffer
	Sink   Sink
}

// Outcome summarises a finished run.
type Outcome struct {
	Status     Status
	Report     string
	ReportPath string
	Notes      []string
	Err        error
}

// Config tunes the adapter.
type Config struct {
	// Timeout bounds a single engine run. Zero means no limit.
	Timeout time.Duration
}

// Adapter runs research invocations against an engine.
type Adapter struct {
	engine   engine.Engine
	recorder Recorder
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Adapter. Pass nil logger for default.
func New(eng engine.Engine, rec Recorder, cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		engine:   eng,
		recorder: rec,
		timeout:  cfg.Timeout,
		now:      time.Now,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Run executes the invocation to completion. Events are sent to inv.Sink in
// the order the engine emitted them, bracketed by StreamStart and StreamEnd.
// Cancelling ctx cancels the engine; the run is then recorded as cancelled
// and nothing more is sent. A report the engine already returned is still
// archived.
func (a *Adapter) Run(ctx context.Context, inv Invocation) Outcome {
	if inv.RunID == "" {
		inv.RunID = uuid.New().String()
	}
	logger := a.logger.With("run_id", inv.RunID, "chat_id", inv.ChatID)

	runCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	r := &run{
		inv:       inv,
		messageID: uuid.New().String(),
		logger:    logger,
	}

	logger.Info("research started", "query_len", len(inv.Query))
	start := time.Now()

	inv.Sink.Send(protocol.StreamStart{MessageID: r.messageID})
	res, err := a.engine.Research(runCtx, inv.Query, r.handle)
	r.close()
	if ctx.Err() == nil {
		inv.Sink.Send(protocol.StreamEnd{MessageID: r.messageID})
	}

	var out Outcome
	switch {
	case err == nil && res != nil:
		// A report that made it out of the engine is kept even if the
		// caller has gone away in the meantime.
		out = a.completed(ctx, inv, res)
	case ctx.Err() != nil:
		out = a.cancelled(ctx, inv, ctx.Err())
	case err != nil:
		out = a.failed(ctx, inv, err)
	default:
		out = a.failed(ctx, inv, errors.New("engine returned no result"))
	}

	elapsed := time.Since(start)
	metrics.RecordResearch(out.Status.String(), elapsed)
	logger.Info("research finished", "status", out.Status.String(), "duration", elapsed)
	return out
}

// persistContext detaches from the connection so that end-of-run writes
// happen even when the client has gone away.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (a *Adapter) completed(ctx context.Context, inv Invocation, res *engine.Result) Outcome {
	report := res.Report
	if strings.TrimSpace(report) == "" {
		report = NoReportFallback
	}

	pctx, cancel := persistContext(ctx)
	defer cancel()

	reportPath, err := a.recorder.SaveReport(pctx, inv.ChatID, a.now(), inv.Query, report)
	if err != nil {
		a.logger.Error("failed to archive report", "run_id", inv.RunID, "error", err)
		reportPath = ""
		notify(ctx, inv.Sink, protocol.Error{
			Code:    protocol.ErrCodeStoreUnavailable,
			Message: "The report could not be saved; it is included below but will not be downloadable.",
		})
	}

	if _, err := a.recorder.AppendMessage(pctx, conversation.AppendRequest{
		ChatID:     inv.ChatID,
		Role:       store.RoleAssistant,
		Content:    report,
		ReportPath: reportPath,
		Origin:     inv.Origin,
	}); err != nil {
		a.logger.Error("failed to record report message", "run_id", inv.RunID, "error", err)
		notify(ctx, inv.Sink, protocol.Error{
			Code:    protocol.ErrCodeStoreUnavailable,
			Message: "The report could not be added to the chat history.",
		})
	}

	notify(ctx, inv.Sink, protocol.ResearchCompleted{Report: report, ReportPath: reportPath})
	notify(ctx, inv.Sink, protocol.Message{Text: CompletionText(report, reportPath)})

	return Outcome{
		Status:     StatusCompleted,
		Report:     report,
		ReportPath: reportPath,
		Notes:      res.Notes,
	}
}

// notify sends ev unless the caller has gone away.
func notify(ctx context.Context, sink Sink, ev protocol.Event) {
	if ctx.Err() == nil {
		sink.Send(ev)
	}
}

func (a *Adapter) failed(ctx context.Context, inv Invocation, cause error) Outcome {
	failure := &EngineFailure{Err: cause}
	text := FailureText(cause)

	inv.Sink.Send(protocol.Error{Code: protocol.ErrCodeEngineFailure, Message: cause.Error()})
	inv.Sink.Send(protocol.Message{Text: text})

	pctx, cancel := persistContext(ctx)
	defer cancel()
	if _, err := a.recorder.AppendMessage(pctx, conversation.AppendRequest{
		ChatID:  inv.ChatID,
		Role:    store.RoleAssistant,
		Content: text,
		Origin:  inv.Origin,
	}); err != nil {
		a.logger.Error("failed to record failure message", "run_id", inv.RunID, "error", err)
		inv.Sink.Send(protocol.Error{
			Code:    protocol.ErrCodeStoreUnavailable,
			Message: "The error could not be added to the chat history.",
		})
	}

	return Outcome{Status: StatusFailed, Err: failure}
}

func (a *Adapter) cancelled(ctx context.Context, inv Invocation, cause error) Outcome {
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if _, err := a.recorder.AppendMessage(pctx, conversation.AppendRequest{
		ChatID:  inv.ChatID,
		Role:    store.RoleAssistant,
		Content: CancelledMessage,
		Origin:  inv.Origin,
	}); err != nil {
		a.logger.Error("failed to record cancellation", "run_id", inv.RunID, "error", err)
	}
	return Outcome{Status: StatusCancelled, Err: cause}
}

// CompletionText is the assistant message shown when a run succeeds.
func CompletionText(report, reportPath string) string {
	text := "## Research Complete! 🎉\n\n" + report
	if reportPath != "" {
		text += "\n\n📄 *Report saved to: " + reportPath + "*"
	}
	return text
}

// FailureText is the assistant message shown and stored when a run fails.
func FailureText(err error) string {
	return "❌ An error occurred during research: " + err.Error()
}

// run holds the per-invocation translation state. Callbacks are serialised
// by mu; once closed, late callbacks are dropped.
type run struct {
	mu        sync.Mutex
	closed    bool
	inv       Invocation
	messageID string
	logger    *slog.Logger
}

func (r *run) handle(cb engine.Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Debug("dropping callback after run end", "kind", cb.Kind.String())
		return
	}
	if ev, ok := r.translate(cb); ok {
		r.inv.Sink.Send(ev)
	}
}

func (r *run) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
