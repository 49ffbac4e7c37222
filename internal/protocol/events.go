// ABOUTME: Outbound stream events and their wire encoding
// ABOUTME: Every event the gateway sends to a client is one of the types here

package protocol

import (
	"encoding/json"
	"time"
)

// EmptyQueryReply is sent when a user message carries no text.
const EmptyQueryReply = "Please provide a research query."

// Error codes carried by Error events.
const (
	ErrCodeDecode             = "decode_error"
	ErrCodeResearchInProgress = "research_in_progress"
	ErrCodeEngineFailure      = "engine_failure"
	ErrCodeStoreUnavailable   = "store_unavailable"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeEncode             = "encode_failure"
)

// Lifecycle phases carried by Lifecycle events.
const (
	PhaseModelStart  = "model_start"
	PhaseModelEnd    = "model_end"
	PhaseToolStart   = "tool_start"
	PhaseToolOutput  = "tool_output"
	PhaseToolError   = "tool_error"
	PhaseAgentAction = "agent_action"
	PhaseAgentFinish = "agent_finish"
	PhaseChainStart  = "chain_start"
	PhaseChainEnd    = "chain_end"
)

// Notice names carried by "event" frames.
const (
	NoticeResearchStarted   = "research_started"
	NoticeResearchProgress  = "research_progress"
	NoticeResearchCompleted = "research_completed"
)

// Event is an outbound frame. The set of implementations is closed.
type Event interface {
	frameType() string
}

// State is a snapshot of the session state. The detail fields are only
// populated on the snapshot sent after a run finishes.
type State struct {
	ChatID         string
	IsResearching  bool
	ResearchStatus string
	CurrentQuery   string
	Notes          []string
	FinalReport    string
}

// Lifecycle narrates engine progress: model, tool, agent and chain steps.
type Lifecycle struct {
	Phase   string
	Label   string
	Name    string
	Tool    string
	Input   string
	Output  string
	Message string
}

// StreamStart opens a token stream for an assistant message.
type StreamStart struct {
	MessageID string
}

// Token is one streamed fragment of model output.
type Token struct {
	MessageID string
	Content   string
}

// StreamEnd closes a token stream.
type StreamEnd struct {
	MessageID string
}

// Message is a complete assistant message.
type Message struct {
	Text string
}

// ResearchStarted announces that a run began.
type ResearchStarted struct {
	Query string
}

// ResearchProgress reports coarse progress in [0,1].
type ResearchProgress struct {
	Status   string
	Progress float64
}

// ResearchCompleted carries the final report. ReportPath is empty when the
// report could not be archived.
type ResearchCompleted struct {
	Report     string
	ReportPath string
}

// Error reports a problem to the client. The connection stays open.
type Error struct {
	Code    string
	Message string
}

// History relays a transcript message persisted by another connection bound
// to the same chat.
type History struct {
	ID         string
	ChatID     string
	Role       string
	Content    string
	Timestamp  time.Time
	ReportPath string
}

func (State) frameType() string             { return "state" }
func (Lifecycle) frameType() string         { return "stream" }
func (StreamStart) frameType() string       { return "stream_start" }
func (Token) frameType() string             { return "token" }
func (StreamEnd) frameType() string         { return "stream_end" }
func (Message) frameType() string           { return "message" }
func (ResearchStarted) frameType() string   { return "event" }
func (ResearchProgress) frameType() string  { return "event" }
func (ResearchCompleted) frameType() string { return "event" }
func (Error) frameType() string             { return "error" }
func (History) frameType() string           { return "history" }

// FrameType returns the wire "type" tag of an event, for logging and metrics.
func FrameType(ev Event) string {
	if ev == nil {
		return "error"
	}
	return ev.frameType()
}

type stateData struct {
	ChatID         *string  `json:"chat_id"`
	IsResearching  bool     `json:"is_researching"`
	ResearchStatus string   `json:"research_status"`
	CurrentQuery   string   `json:"current_query,omitempty"`
	Notes          []string `json:"notes,omitempty"`
	FinalReport    string   `json:"final_report,omitempty"`
}

type lifecycleData struct {
	Phase   string `json:"phase"`
	Label   string `json:"label,omitempty"`
	Name    string `json:"name,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Input   string `json:"input,omitempty"`
	Output  string `json:"output,omitempty"`
	Message string `json:"message,omitempty"`
}

type historyData struct {
	ID         string `json:"id"`
	ChatID     string `json:"chat_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	ReportPath string `json:"report_path,omitempty"`
}

// Encode renders an event as a JSON text frame. It never fails: an event
// that cannot be marshalled is replaced by an encode_failure error frame.
func Encode(ev Event) []byte {
	data, err := json.Marshal(wireFrame(ev))
	if err != nil {
		return []byte(`{"type":"error","code":"` + ErrCodeEncode + `","message":"failed to encode event"}`)
	}
	return data
}

func wireFrame(ev Event) map[string]any {
	switch e := ev.(type) {
	case State:
		return map[string]any{"type": e.frameType(), "data": stateData{
			ChatID:         optional(e.ChatID),
			IsResearching:  e.IsResearching,
			ResearchStatus: e.ResearchStatus,
			CurrentQuery:   e.CurrentQuery,
			Notes:          e.Notes,
			FinalReport:    e.FinalReport,
		}}
	case Lifecycle:
		return map[string]any{"type": e.frameType(), "data": lifecycleData(e)}
	case StreamStart:
		return map[string]any{"type": e.frameType(), "message_id": e.MessageID}
	case Token:
		return map[string]any{"type": e.frameType(), "message_id": e.MessageID, "content": e.Content}
	case StreamEnd:
		return map[string]any{"type": e.frameType(), "message_id": e.MessageID}
	case Message:
		return map[string]any{"type": e.frameType(), "sender": "assistant", "text": e.Text}
	case ResearchStarted:
		return notice(NoticeResearchStarted, map[string]any{"query": e.Query})
	case ResearchProgress:
		return notice(NoticeResearchProgress, map[string]any{"status": e.Status, "progress": e.Progress})
	case ResearchCompleted:
		return notice(NoticeResearchCompleted, map[string]any{"report": e.Report, "report_path": e.ReportPath})
	case Error:
		return map[string]any{"type": e.frameType(), "code": e.Code, "message": e.Message}
	case History:
		return map[string]any{"type": e.frameType(), "message": historyData{
			ID:         e.ID,
			ChatID:     e.ChatID,
			Role:       e.Role,
			Content:    e.Content,
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
			ReportPath: e.ReportPath,
		}}
	default:
		return map[string]any{"type": "error", "code": ErrCodeEncode, "message": "unsupported event"}
	}
}

func notice(name string, data map[string]any) map[string]any {
	return map[string]any{"type": "event", "event": name, "data": data}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
