package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Append inserts one immutable message row. The write runs in its own
// transaction and is rolled back on any failure.
func (s *SQLite) Append(ctx context.Context, m NewMessage) (Message, error) {
	if m.SessionID == "" {
		return Message{}, storageErr("append", fmt.Errorf("session id is required"))
	}
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return Message{}, storageErr("append", fmt.Errorf("invalid role %q", m.Role))
	}

	var metadataJSON any
	if m.Metadata != nil {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return Message{}, storageErr("append", fmt.Errorf("marshal metadata: %w", err))
		}
		metadataJSON = string(data)
	}

	var response *string
	if m.Role == RoleAssistant {
		text := m.Text
		response = &text
	}

	created := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, storageErr("append", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, message, response, token_count, user, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, string(m.Role), m.Text, response, m.TokenCount, m.User, metadataJSON, created.UnixNano(),
	)
	if err != nil {
		return Message{}, storageErr("append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, storageErr("append", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, storageErr("append", err)
	}

	return Message{
		ID:         id,
		SessionID:  m.SessionID,
		Role:       m.Role,
		Text:       m.Text,
		Response:   response,
		TokenCount: m.TokenCount,
		User:       m.User,
		Metadata:   m.Metadata,
		CreatedAt:  fromNanos(created.UnixNano()),
	}, nil
}

// Recent returns at most limit messages of a session, newest first.
func (s *SQLite) Recent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, message, response, token_count, user, metadata, created_at
		 FROM messages WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, storageErr("recent", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr("recent", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("recent", err)
	}
	return out, nil
}

// Totals sums the message count, reported tokens, and message characters
// of a session.
func (s *SQLite) Totals(ctx context.Context, sessionID string) (Totals, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message, token_count FROM messages WHERE session_id = ?`, sessionID,
	)
	if err != nil {
		return Totals{}, storageErr("totals", err)
	}
	defer rows.Close()

	var t Totals
	for rows.Next() {
		var text string
		var tokens sql.NullInt64
		if err := rows.Scan(&text, &tokens); err != nil {
			return Totals{}, storageErr("totals", err)
		}
		t.Messages++
		if tokens.Valid {
			t.Tokens += int(tokens.Int64)
		}
		// Characters are counted in runes, not bytes.
		t.Chars += len([]rune(text))
	}
	if err := rows.Err(); err != nil {
		return Totals{}, storageErr("totals", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, error) {
	var (
		m         Message
		role      string
		response  sql.NullString
		tokens    sql.NullInt64
		metadata  sql.NullString
		createdAt int64
	)
	if err := r.Scan(&m.ID, &m.SessionID, &role, &m.Text, &response, &tokens, &m.User, &metadata, &createdAt); err != nil {
		return Message{}, err
	}
	m.Role = Role(role)
	if response.Valid {
		v := response.String
		m.Response = &v
	}
	if tokens.Valid {
		v := int(tokens.Int64)
		m.TokenCount = &v
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return Message{}, fmt.Errorf("decode metadata of message %d: %w", m.ID, err)
		}
	}
	m.CreatedAt = fromNanos(createdAt)
	return m, nil
}
