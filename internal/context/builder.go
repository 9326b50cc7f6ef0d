package context

import (
	"context"
	"fmt"
	"time"
)

// DefaultFetchLimit bounds the rows read when no message ceiling is set.
const DefaultFetchLimit = 100

// History is the selected prompt history of one session.
type History struct {
	Messages []Message
	Fetched  int
}

// Builder reads recent rows of a session and applies a decay window.
type Builder struct {
	Reader     Reader
	Window     DecayWindow
	FetchLimit int
	Now        func() time.Time
}

// NewBuilder returns a builder whose today band and fetch limit follow
// maxMessages. A value <= 0 leaves today uncapped and reads
// DefaultFetchLimit rows.
func NewBuilder(r Reader, maxMessages int) *Builder {
	fetch := maxMessages
	if fetch <= 0 {
		fetch = DefaultFetchLimit
	}
	return &Builder{
		Reader:     r,
		Window:     NewDecayWindow(maxMessages),
		FetchLimit: fetch,
		Now:        time.Now,
	}
}

// Build returns the session's prompt history, oldest first.
func (b *Builder) Build(ctx context.Context, sessionID string) (History, error) {
	limit := b.FetchLimit
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	rows, err := b.Reader.Recent(ctx, sessionID, limit)
	if err != nil {
		return History{}, fmt.Errorf("failed to read history: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return History{
		Messages: b.Window.Select(now(), rows),
		Fetched:  len(rows),
	}, nil
}
