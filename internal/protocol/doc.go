// Package protocol defines the JSON frames exchanged over a client socket.
//
// # Inbound
//
// Two frames are accepted:
//
//	{"type":"select_chat","chat_id":"..."}
//	{"type":"message","sender":"user","text":"...","chat_id":"..."}
//
// Decode validates them with go-playground/validator and returns a
// *SelectChat or *UserMessage. Anything else yields a *DecodeError, which
// the session reports back to the client without closing the socket.
//
// # Outbound
//
// Event is a closed set of value types. Encode maps each one to its wire
// frame:
//
//	State              {"type":"state","data":{...}}
//	Lifecycle          {"type":"stream","data":{"phase":...}}
//	StreamStart        {"type":"stream_start","message_id":...}
//	Token              {"type":"token","message_id":...,"content":...}
//	StreamEnd          {"type":"stream_end","message_id":...}
//	Message            {"type":"message","sender":"assistant","text":...}
//	ResearchStarted    {"type":"event","event":"research_started",...}
//	ResearchProgress   {"type":"event","event":"research_progress",...}
//	ResearchCompleted  {"type":"event","event":"research_completed",...}
//	Error              {"type":"error","code":...,"message":...}
//	History            {"type":"history","message":{...}}
//
// Encode is pure and never fails.
package protocol
