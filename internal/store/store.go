// Package store persists users, chat sessions, and the append-only message
// log on top of SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stupiduntilnot/chatgram/internal/db"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrStorage is matched by every *StorageError via errors.Is.
var ErrStorage = errors.New("storage failure")

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// StorageError wraps a failed read or write against the database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Message is one immutable turn of dialogue.
type Message struct {
	ID         int64          `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       Role           `json:"role"`
	Text       string         `json:"message"`
	Response   *string        `json:"response,omitempty"`
	TokenCount *int           `json:"token_count,omitempty"`
	User       string         `json:"user"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Content returns the text a message contributes to a prompt: the stored
// message for user turns and the stored response for assistant turns.
func (m Message) Content() string {
	if m.Role == RoleAssistant && m.Response != nil {
		return *m.Response
	}
	return m.Text
}

// NewMessage holds the caller-supplied fields of a message to append.
type NewMessage struct {
	SessionID  string
	Role       Role
	Text       string
	TokenCount *int
	User       string
	Metadata   map[string]any
}

// Session is one conversation thread between a user and a persona.
type Session struct {
	ID        string     `json:"id"`
	Persona   string     `json:"persona"`
	UserID    int64      `json:"user_id"`
	ChatID    string     `json:"chat_id"`
	CreatedAt time.Time  `json:"created_at"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

// User is a human participant.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Totals aggregates every message of a session for limit checks.
type Totals struct {
	Messages int
	Tokens   int
	Chars    int
}

// SQLite implements the message, session, and user stores.
type SQLite struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a SQLite store.
type Option func(*SQLite)

// WithClock overrides the clock used to stamp created_at.
func WithClock(now func() time.Time) Option {
	return func(s *SQLite) { s.now = now }
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLite) { s.logger = logger }
}

// New wraps an opened database whose schema has been initialized with
// db.InitSchema.
func New(database *sql.DB, opts ...Option) *SQLite {
	s := &SQLite{db: database, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database at path, initializes the schema, and returns a store.
func Open(path string, opts ...Option) (*SQLite, error) {
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return New(database, opts...), nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

func fromNanos(n int64) time.Time { return time.Unix(0, n) }
