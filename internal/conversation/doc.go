// Package conversation is the persistence layer the session manager and the
// research adapter talk to.
//
// # Overview
//
// The Service wraps the transcript store and the report archive. Every call
// is dispatched onto a bounded workpool.Pool so that socket reader and writer
// goroutines never block on SQLite or the filesystem:
//
//	svc := conversation.New(store, archive, pool, broadcaster, logger)
//
// Key operations:
//
//   - CreateChat / EnsureChat: create a chat, or find-or-create by id
//   - AppendMessage: persist one transcript message and publish it
//   - ListChats / ListMessages / DeleteChat / RenameChat
//   - SaveReport / ReadReport / RawReport: archive access
//
// # Errors
//
// Contract errors from the store and archive (store.ErrUnknownChat,
// store.ErrNotFound, archive.ErrNotFound, ...) pass through unchanged.
// Everything else is wrapped with ErrStoreUnavailable, which callers treat as
// a degraded but recoverable condition.
//
// # Event Broadcasting
//
// AppendMessage publishes the stored message on the EventBroadcaster keyed
// by chat id. Connections bound to the same chat receive it, except the
// connection named in AppendRequest.Origin. Delivery is best-effort: slow
// subscribers drop messages and can reload the transcript over HTTP.
package conversation
