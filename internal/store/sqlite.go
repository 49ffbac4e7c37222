// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides chat/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // pure Go, default
	DriverCgo     = "sqlite3" // mattn/go-sqlite3, requires cgo
)

// timeLayout is fixed width so that lexical ORDER BY matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// legacyTimeLayouts covers rows written by older deployments of the chat
// backend, which stored naive local isoformat strings.
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLiteStore) {
		if logger != nil {
			s.logger = logger.With("component", "store")
		}
	}
}

// WithClock overrides the time source used for created_at/updated_at and
// message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore creates a new SQLite store at the given path using the
// pure Go driver. The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	return Open(DriverModernc, path, opts...)
}

// Open creates a store with an explicit driver name (DriverModernc or DriverCgo).
func Open(driver, path string, opts ...Option) (*SQLiteStore, error) {
	switch driver {
	case "", DriverModernc:
		driver = DriverModernc
	case DriverCgo:
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	s := &SQLiteStore{
		logger: slog.Default().With("component", "store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s.db = db

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// dsn applies the connection pragmas through the driver's DSN parameters so
// that every pooled connection gets them, not only the first:
// WAL for concurrent reads, foreign keys, a busy timeout, and IMMEDIATE
// transactions so read-then-write transactions never fail on lock upgrade.
func dsn(driver, path string) string {
	if driver == DriverCgo {
		return path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			report_path TEXT,
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_timestamp
			ON messages(chat_id, timestamp);

		CREATE INDEX IF NOT EXISTS idx_chats_updated
			ON chats(updated_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Databases created before reports were archived lack report_path.
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('messages') WHERE name = 'report_path'`).Scan(&exists)
	if err == nil {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE messages ADD COLUMN report_path TEXT`); err != nil {
		return fmt.Errorf("adding report_path column to messages: %w", err)
	}
	s.logger.Info("applied migration", "column", "report_path", "table", "messages")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateChat creates a new chat in the database.
// Zero timestamps are filled from the store clock.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now().UTC()
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}

	query := `
		INSERT INTO chats (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		chat.ID,
		chat.Title,
		formatTime(chat.CreatedAt),
		formatTime(chat.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateChat
		}
		return fmt.Errorf("inserting chat: %w", err)
	}

	s.logger.Debug("created chat", "id", chat.ID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite constraint violation.
// Both drivers report constraint failures with the same message text.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetChat retrieves a chat by ID.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM chats
		WHERE id = ?
	`

	chat, err := scanChat(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	return chat, nil
}

// UpdateChatTitle renames a chat and bumps its updated_at.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating chat title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListChats returns all chats ordered by updated_at descending.
func (s *SQLiteStore) ListChats(ctx context.Context) ([]*Chat, error) {
	query := `
		SELECT id, title, created_at, updated_at
		FROM chats
		ORDER BY updated_at DESC, created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	chats := []*Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		chats = append(chats, chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}

	return chats, nil
}

// AppendMessage saves a message and bumps the chat's updated_at in one
// transaction. The message timestamp is clamped so that it never precedes
// the latest message already stored for the chat.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg.Timestamp = msg.Timestamp.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = ?`, msg.ChatID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownChat
	}
	if err != nil {
		return fmt.Errorf("checking chat: %w", err)
	}

	var latest sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM messages WHERE chat_id = ?`, msg.ChatID,
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("querying latest timestamp: %w", err)
	}
	if latest.Valid {
		if last, err := parseTime(latest.String); err == nil && msg.Timestamp.Before(last) {
			msg.Timestamp = last
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, timestamp, report_path)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ChatID,
		msg.Role,
		msg.Content,
		formatTime(msg.Timestamp),
		nullString(msg.ReportPath),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("inserting message %s: %w", msg.ID, err)
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`,
		formatTime(msg.Timestamp), msg.ChatID,
	); err != nil {
		return fmt.Errorf("updating chat timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "chat_id", msg.ChatID, "role", msg.Role)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListMessages retrieves all messages for a chat in chronological order.
// Rows with equal timestamps keep their insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	query := `
		SELECT id, chat_id, role, content, timestamp, report_path
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var msg Message
		var tsStr string
		var reportPath sql.NullString

		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &tsStr, &reportPath); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.Timestamp, err = parseTime(tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		msg.ReportPath = reportPath.String

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// DeleteChat removes a chat's messages and then the chat itself in a single
// transaction. Returns the total number of rows removed.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}
	msgRows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("deleting chat: %w", err)
	}
	chatRows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted chat", "id", id, "messages", msgRows, "chats", chatRows)
	return msgRows + chatRows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var createdAtStr, updatedAtStr string

	if err := row.Scan(&chat.ID, &chat.Title, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	var err error
	chat.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	chat.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &chat, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
