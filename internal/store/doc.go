// Package store provides the durable research transcript for the gateway.
//
// # Architecture
//
// The Store interface covers two entities:
//
//   - Chat: a conversation container with a title and created/updated times
//   - Message: a transcript entry (role user or assistant), optionally
//     pointing at an archived report through ReportPath
//
// SQLiteStore is the production implementation. MockStore is an in-memory
// implementation with the same semantics, used by higher layers in tests.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Two drivers are supported and selected by name through Open:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// Timestamps are written as fixed-width UTC strings with nanosecond
// precision so that ORDER BY on the text column is chronological. Rows written
// by older deployments in naive isoformat are still readable.
//
// # Transactions
//
// AppendMessage runs in one transaction: it checks the chat exists, clamps the
// timestamp to the chat's latest message, inserts, and bumps chats.updated_at.
// DeleteChat removes messages and then the chat in one transaction.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested chat does not exist
//   - ErrDuplicateChat: CreateChat with an id already in use
//   - ErrUnknownChat: AppendMessage to a chat that does not exist
//
// Use errors.Is() for error checking:
//
//	if errors.Is(err, store.ErrUnknownChat) {
//	    // create the chat first
//	}
//
// # Thread Safety
//
// SQLiteStore is safe for concurrent use. The underlying *sql.DB manages
// connection pooling. MockStore guards its maps with a RWMutex and returns
// copies.
package store
