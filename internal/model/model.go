package model

import (
	"context"

	ctxpkg "github.com/stupiduntilnot/chatgram/internal/context"
)

// CompletionRequest carries the prompt and sampling parameters of one call.
type CompletionRequest struct {
	Model           string
	Messages        []ctxpkg.Message
	MaxTokens       int
	Temperature     float64
	PresencePenalty float64
}

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content     string
	TotalTokens int
}

// Provider is the completion provider abstraction used by the persona runtime.
type Provider interface {
	ChatCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
