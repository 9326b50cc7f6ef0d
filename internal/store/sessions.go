package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/stupiduntilnot/chatgram/internal/db"
)

const sessionColumns = `id, persona, user_id, chat_id, created_at, reset_at`

// UpsertUser returns the user with the given username, creating it on first
// contact.
func (s *SQLite) UpsertUser(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, storageErr("upsert user", fmt.Errorf("username is required"))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (username, created_at) VALUES (?, ?)`,
		username, s.now().UnixNano(),
	)
	if err != nil {
		return User{}, storageErr("upsert user", err)
	}

	var u User
	var created int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &created)
	if err != nil {
		return User{}, storageErr("upsert user", err)
	}
	u.CreatedAt = fromNanos(created)
	return u, nil
}

// CreateSession persists a new live session. CreatedAt is stamped by the store.
func (s *SQLite) CreateSession(ctx context.Context, sess Session) (Session, error) {
	sess.CreatedAt = fromNanos(s.now().UnixNano())
	sess.ResetAt = nil
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, persona, user_id, chat_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Persona, sess.UserID, sess.ChatID, sess.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Session{}, storageErr("create session", err)
	}
	s.logEvent(ctx, db.EventSessionCreated, map[string]any{
		"session_id": sess.ID,
		"persona":    sess.Persona,
		"user_id":    sess.UserID,
		"chat_id":    sess.ChatID,
	})
	return sess, nil
}

// GetSession looks up a session by id, live or reset.
func (s *SQLite) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row, "get session")
}

// LiveSession returns the live session of a (user, persona) pair.
func (s *SQLite) LiveSession(ctx context.Context, userID int64, persona string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND persona = ? AND reset_at IS NULL`,
		userID, persona,
	)
	return scanSession(row, "live session")
}

// ResetSession unlinks a live session. The row and its messages are kept.
// ErrNotFound is returned when the session is unknown or already reset.
func (s *SQLite) ResetSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET reset_at = ? WHERE id = ? AND reset_at IS NULL`,
		s.now().UnixNano(), id,
	)
	if err != nil {
		return storageErr("reset session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("reset session", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.logEvent(ctx, db.EventSessionReset, map[string]any{"session_id": id})
	return nil
}

func scanSession(row *sql.Row, op string) (Session, error) {
	var (
		sess    Session
		created int64
		reset   sql.NullInt64
	)
	err := row.Scan(&sess.ID, &sess.Persona, &sess.UserID, &sess.ChatID, &created, &reset)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, storageErr(op, err)
	}
	sess.CreatedAt = fromNanos(created)
	if reset.Valid {
		t := fromNanos(reset.Int64)
		sess.ResetAt = &t
	}
	return sess, nil
}
