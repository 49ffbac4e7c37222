// ABOUTME: Contract between the gateway and a research engine
// ABOUTME: Defines the closed set of lifecycle callbacks an engine may emit

package engine

import (
	"context"
	"fmt"
)

// Kind identifies a lifecycle callback. The set is closed; consumers switch
// over every value.
type Kind int

const (
	KindModelStart Kind = iota + 1
	KindToken
	KindModelEnd
	KindToolStart
	KindToolEnd
	KindToolError
	KindAgentAction
	KindAgentFinish
	KindChainStart
	KindChainEnd
)

var kindNames = map[Kind]string{
	KindModelStart:  "model_start",
	KindToken:       "token",
	KindModelEnd:    "model_end",
	KindToolStart:   "tool_start",
	KindToolEnd:     "tool_end",
	KindToolError:   "tool_error",
	KindAgentAction: "agent_action",
	KindAgentFinish: "agent_finish",
	KindChainStart:  "chain_start",
	KindChainEnd:    "chain_end",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Callback is one lifecycle notification. Which payload fields are set
// depends on Kind:
//
//	ModelStart   Label (model name)
//	Token        Text
//	ToolStart    Name, Input
//	ToolEnd      Name, Output
//	ToolError    Name, Message
//	AgentAction  Name (tool), Input
//	ChainStart   Label
//	ChainEnd     Label
type Callback struct {
	Kind    Kind
	Label   string
	Name    string
	Input   string
	Output  string
	Text    string
	Message string
}

// Emitter receives callbacks. Engines may call it from several goroutines.
type Emitter func(Callback)

// Result is the outcome of a successful run.
type Result struct {
	Report string
	Notes  []string
}

// Engine runs one research query to completion. Implementations return
// ctx.Err() (possibly wrapped) when ctx is cancelled.
type Engine interface {
	Research(ctx context.Context, query string, emit Emitter) (*Result, error)
}

// Func adapts a plain function to the Engine interface.
type Func func(ctx context.Context, query string, emit Emitter) (*Result, error)

// Research calls f.
func (f Func) Research(ctx context.Context, query string, emit Emitter) (*Result, error) {
	return f(ctx, query, emit)
}
