// ABOUTME: Per-kind translation of engine callbacks into protocol events
// ABOUTME: Also holds the tool output truncation rule

package orchestrator

import (
	"github.com/2389/research-gateway/internal/engine"
	"github.com/2389/research-gateway/internal/protocol"
)

const (
	// MaxToolOutputChars is the longest tool output forwarded verbatim.
	MaxToolOutputChars = 1000

	// TruncationMarker is appended once to truncated tool output.
	TruncationMarker = "\n... [output truncated]"
)

// Truncate limits s to MaxToolOutputChars characters, appending
// TruncationMarker when anything was cut.
func Truncate(s string) string {
	if len(s) <= MaxToolOutputChars {
		return s
	}
	runes := []rune(s)
	if len(runes) <= MaxToolOutputChars {
		return s
	}
	return string(runes[:MaxToolOutputChars]) + TruncationMarker
}

// translate maps one callback to at most one event. Must be called with
// r.mu held.
func (r *run) translate(cb engine.Callback) (protocol.Event, bool) {
	switch cb.Kind {
	case engine.KindModelStart:
		return r.modelStart(cb)
	case engine.KindToken:
		return r.token(cb)
	case engine.KindModelEnd:
		return r.modelEnd(cb)
	case engine.KindToolStart:
		return r.toolStart(cb)
	case engine.KindToolEnd:
		return r.toolEnd(cb)
	case engine.KindToolError:
		return r.toolError(cb)
	case engine.KindAgentAction:
		return r.agentAction(cb)
	case engine.KindAgentFinish:
		return r.agentFinish(cb)
	case engine.KindChainStart:
		return r.chainStart(cb)
	case engine.KindChainEnd:
		return r.chainEnd(cb)
	}
	r.logger.Warn("ignoring unknown engine callback", "kind", cb.Kind.String())
	return nil, false
}

func (r *run) modelStart(cb engine.Callback) (protocol.Event, bool) {
	if r.inv.Tokens != nil {
		r.inv.Tokens.Reset()
	}
	return protocol.Lifecycle{Phase: protocol.PhaseModelStart, Label: cb.Label}, true
}

func (r *run) token(cb engine.Callback) (protocol.Event, bool) {
	if cb.Text == "" {
		return nil, false
	}
	if r.inv.Tokens != nil {
		r.inv.Tokens.Push(cb.Text)
	}
	return protocol.Token{MessageID: r.messageID, Content: cb.Text}, true
}

func (r *run) modelEnd(engine.Callback) (protocol.Event, bool) {
	if r.inv.Tokens != nil {
		r.inv.Tokens.Reset()
	}
	return protocol.Lifecycle{Phase: protocol.PhaseModelEnd}, true
}

func (r *run) toolStart(cb engine.Callback) (protocol.Event, bool) {
	return protocol.Lifecycle{Phase: protocol.PhaseToolStart, Name: cb.Name, Input: cb.Input}, true
}

func (r *run) toolEnd(cb engine.Callback) (protocol.Event, bool) {
	return protocol.Lifecycle{Phase: protocol.PhaseToolOutput, Name: cb.Name, Output: Truncate(cb.Output)}, true
}

func (r *run) toolError(cb engine.Callback) (protocol.Event, bool) {
	return protocol.Lifecycle{Phase: protocol.PhaseToolError, Name: cb.Name, Message: cb.Message}, true
}

func (r *run) agentAction(cb engine.Callback) (protocol.Event, bool) {
	return protocol.Lifecycle{Phase: protocol.PhaseAgentAction, Tool: cb.Name, Input: cb.Input}, true
}

func (r *run) agentFinish(engine.Callback) (protocol.Event, bool) {
	return protocol.Lifecycle{Phase: protocol.PhaseAgentFinish}, true
}

func (r *run) chainStart(cb engine.Callback) (protocol.Event, bool) {
	if cb.Label == GenericSequenceLabel {
		return nil, false
	}
	return protocol.Lifecycle{Phase: protocol.PhaseChainStart, Label: cb.Label}, true
}

func (r *run) chainEnd(cb engine.Callback) (protocol.Event, bool) {
	return protocol.Lifecycle{Phase: protocol.PhaseChainEnd, Label: cb.Label}, true
}
