package store

import (
	"context"

	"github.com/stupiduntilnot/chatgram/internal/db"
)

// LogEvent appends an audit event. See db.LogEvent.
func (s *SQLite) LogEvent(ctx context.Context, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	id, err := db.LogEvent(ctx, s.db, parentID, eventType, payload)
	if err != nil {
		return 0, storageErr("log event", err)
	}
	return id, nil
}

// logEvent records an event whose failure must not fail the caller.
func (s *SQLite) logEvent(ctx context.Context, eventType string, payload map[string]any) {
	if _, err := db.LogEvent(ctx, s.db, nil, eventType, payload); err != nil {
		s.logger.Warn("failed to log event", "event_type", eventType, "error", err)
	}
}
