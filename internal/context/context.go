package context

import (
	"context"

	"github.com/stupiduntilnot/chatgram/internal/store"
)

// Reader retrieves raw message rows, newest first.
type Reader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
}

// Assembler combines system prompt, history, and user message into a final message list.
type Assembler interface {
	Assemble(system string, history []Message, userMsg string) []Message
}
