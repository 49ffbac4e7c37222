// Package gateway wires the research-gateway server components together.
//
// # Overview
//
// The Gateway owns the transcript store, the report archive, the worker pool
// that runs persistence calls, the conversation service, and the session
// manager. It exposes them over a single HTTP listener, either plain TCP or
// a Tailscale tsnet node.
//
// # Endpoints
//
//	GET    /health                     liveness, always "OK"
//	GET    /health/ready               store reachability
//	GET    /ws                         streaming research session (WebSocket)
//	GET    /api/chats                  list chats, most recent first
//	POST   /api/chats                  create a chat, optional {"title"}
//	PATCH  /api/chats/{id}             rename a chat
//	DELETE /api/chats/{id}             delete a chat and its messages
//	GET    /api/chats/{id}/messages    chat transcript
//	GET    /api/reports/{filename}     archived report (?format=html renders it)
//	GET    /api/sessions               live connections
//	GET    /metrics                    Prometheus metrics (configurable path)
//
// Errors from the API are JSON objects of the form {"error": "..."}.
// Persistence failures map to 503.
//
// # Sessions
//
// Each WebSocket connection is wrapped in a transport adapter and handed to
// session.Manager.Serve. The adapter turns peer close frames into io.EOF and
// interrupts blocked reads when the session is cancelled.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, eng, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is cancelled
//
// On shutdown the HTTP server stops accepting, live sessions are cancelled
// (runs in flight record a cancellation message), the worker pool drains,
// and the store is closed.
package gateway
