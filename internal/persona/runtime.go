package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ctxpkg "github.com/stupiduntilnot/chatgram/internal/context"
	"github.com/stupiduntilnot/chatgram/internal/control"
	"github.com/stupiduntilnot/chatgram/internal/db"
	"github.com/stupiduntilnot/chatgram/internal/model"
	"github.com/stupiduntilnot/chatgram/internal/store"
)

const (
	RefusalLimit         = "Sorry, I can't answer that. The maximum number of messages or tokens for this persona has been reached."
	RefusalTooLong       = "Sorry, I can't answer that. The message is too long."
	RefusalProviderError = "Sorry, I encountered an error while processing your request."
)

// DefaultProviderTimeout bounds one completion call.
const DefaultProviderTimeout = 120 * time.Second

// Store is the persistence a runtime needs.
type Store interface {
	ctxpkg.Reader
	Append(ctx context.Context, m store.NewMessage) (store.Message, error)
	Totals(ctx context.Context, sessionID string) (store.Totals, error)
	LogEvent(ctx context.Context, parentID *int64, eventType string, payload map[string]any) (int64, error)
}

// Runtime binds a persona to storage, the history window, and a provider.
type Runtime struct {
	persona   Persona
	store     Store
	provider  model.Provider
	builder   *ctxpkg.Builder
	assembler ctxpkg.Assembler
	timeout   time.Duration
	logger    *slog.Logger
	parentID  *int64
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithProviderTimeout overrides DefaultProviderTimeout.
func WithProviderTimeout(d time.Duration) RuntimeOption {
	return func(r *Runtime) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the clock that decides message age in the history window.
func WithClock(now func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.builder.Now = now }
}

// WithParentEvent records each turn.started event as a child of id.
func WithParentEvent(id int64) RuntimeOption {
	return func(r *Runtime) { r.parentID = &id }
}

func NewRuntime(p Persona, s Store, provider model.Provider, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		persona:   p,
		store:     s,
		provider:  provider,
		builder:   ctxpkg.NewBuilder(s, p.MaxMessages()),
		assembler: &ctxpkg.StandardAssembler{},
		timeout:   DefaultProviderTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("persona", p.Name)
	return r
}

// Persona returns the runtime's configuration.
func (r *Runtime) Persona() Persona { return r.persona }

// HandleTurn answers text from user within sess and persists the exchange.
//
// Limit denials and provider failures are answered with a fixed refusal
// and a nil error; nothing is written in those cases. A storage failure is
// returned as an error wrapping store.ErrStorage. If the assistant row
// fails after the user row was written, the user row remains.
func (r *Runtime) HandleTurn(ctx context.Context, sess store.Session, text, user string, metadata map[string]any) (string, error) {
	log := r.logger.With("session_id", sess.ID, "user", user)
	turnID := r.event(ctx, r.parentID, db.EventTurnStarted, map[string]any{
		"session_id": sess.ID,
		"persona":    r.persona.Name,
		"user":       user,
	})

	totals, err := r.store.Totals(ctx, sess.ID)
	if err != nil {
		return "", r.storageFailed(ctx, log, turnID, "totals", err)
	}
	if err := control.CheckSession(r.persona.Limits, totals); err != nil {
		return r.refuse(ctx, log, turnID, err, RefusalLimit), nil
	}

	history, err := r.builder.Build(ctx, sess.ID)
	if err != nil {
		return "", r.storageFailed(ctx, log, turnID, "history", err)
	}
	if err := control.CheckMessage(r.persona.Limits, totals, text); err != nil {
		return r.refuse(ctx, log, turnID, err, RefusalTooLong), nil
	}

	messages := r.assembler.Assemble(r.persona.SystemMessage, history.Messages, text)
	r.event(ctx, turnID, db.EventContextAssembled, map[string]any{
		"fetched":  history.Fetched,
		"selected": len(history.Messages),
		"messages": len(messages),
	})

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	resp, err := r.provider.ChatCompletion(callCtx, model.CompletionRequest{
		Model:           r.persona.Model,
		Messages:        messages,
		MaxTokens:       r.persona.Tokens,
		Temperature:     r.persona.Temperature,
		PresencePenalty: r.persona.PresencePenalty,
	})
	cancel()
	if err != nil {
		log.Error("completion failed", "model", r.persona.Model, "messages", len(messages), "error", err)
		r.event(ctx, turnID, db.EventProviderFailed, map[string]any{"error": err.Error()})
		return RefusalProviderError, nil
	}

	if _, err := r.store.Append(ctx, store.NewMessage{
		SessionID: sess.ID,
		Role:      store.RoleUser,
		Text:      text,
		User:      user,
		Metadata:  metadata,
	}); err != nil {
		return "", r.storageFailed(ctx, log, turnID, "append user", err)
	}
	tokens := resp.TotalTokens
	if _, err := r.store.Append(ctx, store.NewMessage{
		SessionID:  sess.ID,
		Role:       store.RoleAssistant,
		Text:       resp.Content,
		TokenCount: &tokens,
		User:       user,
	}); err != nil {
		return "", r.storageFailed(ctx, log, turnID, "append assistant", err)
	}

	r.event(ctx, turnID, db.EventTurnCompleted, map[string]any{"tokens": tokens})
	log.Debug("turn completed", "tokens", tokens, "history", len(history.Messages))
	return resp.Content, nil
}

func (r *Runtime) refuse(ctx context.Context, log *slog.Logger, turnID *int64, err error, reply string) string {
	payload := map[string]any{}
	var le *control.LimitError
	if errors.As(err, &le) {
		payload["type"] = string(le.Type)
		payload["value"] = le.Value
		payload["threshold"] = le.Threshold
	}
	log.Info("limit reached", "error", err)
	r.event(ctx, turnID, db.EventControlLimitReached, payload)
	return reply
}

func (r *Runtime) storageFailed(ctx context.Context, log *slog.Logger, turnID *int64, step string, err error) error {
	log.Error("storage failure", "step", step, "error", err)
	r.event(ctx, turnID, db.EventStorageFailed, map[string]any{"step": step, "error": err.Error()})
	if !errors.Is(err, store.ErrStorage) {
		err = &store.StorageError{Op: step, Err: err}
	}
	return fmt.Errorf("persona %s: %w", r.persona.Name, err)
}

// event records an audit event and returns its id, or nil when the write
// failed.
func (r *Runtime) event(ctx context.Context, parentID *int64, eventType string, payload map[string]any) *int64 {
	id, err := r.store.LogEvent(ctx, parentID, eventType, payload)
	if err != nil {
		r.logger.Warn("failed to log event", "event_type", eventType, "error", err)
		return nil
	}
	return &id
}
