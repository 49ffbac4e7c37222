// Package session runs the per-connection side of the research gateway.
//
// # Overview
//
// Manager.Serve owns one connection from accept to close. Each connection
// gets a session with its own state (bound chat, research status, notes,
// final report and a bounded token buffer) and exactly one writer.
//
// # State Machine
//
// A session is either Idle or Researching. A UserMessage moves it to
// Researching through an atomic compare-and-swap; a second UserMessage
// while a run is in flight is rejected with a research_in_progress error.
// SelectChat is accepted in both states and never changes the research
// flag.
//
// # Ordering
//
// Replies from the read loop, events from the research run and history
// relayed from other connections all go through the writer's bounded
// queue, drained by a single goroutine. Frames reach the socket in the
// order they were queued. Once the writer stops, further sends are
// dropped and Send reports false.
//
// # Cancellation
//
// Closing the connection cancels the session context. A run in flight sees
// the cancellation through its engine context and records a cancelled
// message before Serve returns.
package session
