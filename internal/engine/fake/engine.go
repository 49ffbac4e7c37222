// ABOUTME: Scripted research engine for tests and local development
// ABOUTME: Replays a fixed callback sequence and returns a canned report

package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/2389/research-gateway/internal/engine"
)

// Engine replays Steps through the emitter, then returns Report (or Err).
// A zero Engine behaves like Default.
type Engine struct {
	// Steps are emitted in order. Nil means DefaultSteps(query).
	Steps []engine.Callback
	// Report is returned on success. Empty means a report echoing the query.
	Report string
	Notes  []string
	// Err, if set, is returned after the steps have been emitted.
	Err error
	// StepDelay is slept between steps, honouring cancellation.
	StepDelay time.Duration
	// Block, if non-nil, must be closed (or ctx cancelled) before returning.
	Block <-chan struct{}

	mu      sync.Mutex
	queries []string
}

// Default returns an engine with a short pause between steps, suitable for
// exercising a client by hand.
func Default() *Engine {
	return &Engine{StepDelay: 40 * time.Millisecond}
}

// Queries returns every query the engine has been asked to research.
func (e *Engine) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queries...)
}

// Research implements engine.Engine.
func (e *Engine) Research(ctx context.Context, query string, emit engine.Emitter) (*engine.Result, error) {
	e.mu.Lock()
	e.queries = append(e.queries, query)
	e.mu.Unlock()

	steps := e.Steps
	if steps == nil {
		steps = DefaultSteps(query)
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 && e.StepDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.StepDelay):
			}
		}
		emit(step)
	}

	if e.Block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.Block:
		}
	}

	if e.Err != nil {
		return nil, e.Err
	}

	report := e.Report
	if report == "" {
		report = EchoReport(query)
	}
	notes := e.Notes
	if notes == nil {
		notes = []string{"Collected background on: " + query}
	}
	return &engine.Result{Report: report, Notes: notes}, nil
}

// DefaultSteps is a representative run: a chain, a model call streaming a
// few tokens, and one tool invocation.
func DefaultSteps(query string) []engine.Callback {
	return []engine.Callback{
		{Kind: engine.KindChainStart, Label: "RunnableSequence"},
		{Kind: engine.KindChainStart, Label: "researcher"},
		{Kind: engine.KindModelStart, Label: "fake-model"},
		{Kind: engine.KindToken, Text: "Planning "},
		{Kind: engine.KindToken, Text: "research "},
		{Kind: engine.KindToken, Text: "steps."},
		{Kind: engine.KindModelEnd},
		{Kind: engine.KindAgentAction, Name: "web_search", Input: query},
		{Kind: engine.KindToolStart, Name: "web_search", Input: query},
		{Kind: engine.KindToolEnd, Name: "web_search", Output: "3 results for " + query},
		{Kind: engine.KindAgentFinish},
		{Kind: engine.KindChainEnd, Label: "researcher"},
	}
}

// EchoReport builds a small markdown report about query.
func EchoReport(query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", query)
	b.WriteString("This report was produced by the fake engine.\n\n")
	b.WriteString("- First finding\n- Second finding with `code`\n- Third finding\n\n")
	b.WriteString("> No external sources were consulted.\n")
	return b.String()
}

var _ engine.Engine = (*Engine)(nil)
