// Package bot connects a messaging front-end to the persona runtimes.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	cmdpkg "github.com/stupiduntilnot/chatgram/internal/commander"
	"github.com/stupiduntilnot/chatgram/internal/control"
	"github.com/stupiduntilnot/chatgram/internal/db"
	"github.com/stupiduntilnot/chatgram/internal/persona"
	"github.com/stupiduntilnot/chatgram/internal/session"
)

// EventLogger records audit events.
type EventLogger interface {
	LogEvent(ctx context.Context, parentID *int64, eventType string, payload map[string]any) (int64, error)
}

// Options tunes the poll loop.
type Options struct {
	PollTimeout        int
	Sleep              time.Duration
	MaxConcurrentChats int
	Circuit            *control.CircuitBreaker
}

// Bot polls the front-end and answers every update.
type Bot struct {
	commander cmdpkg.Commander
	personas  *persona.Manager
	sessions  *session.Registry
	events    EventLogger
	logger    *slog.Logger
	opts      Options

	mu     sync.Mutex
	active map[int64]string
	offset int64
}

func New(c cmdpkg.Commander, personas *persona.Manager, sessions *session.Registry, events EventLogger, logger *slog.Logger, opts Options) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrentChats <= 0 {
		opts.MaxConcurrentChats = 4
	}
	if opts.Circuit == nil {
		opts.Circuit = control.NewCircuitBreaker(5, 30*time.Second)
	}
	return &Bot{
		commander: c,
		personas:  personas,
		sessions:  sessions,
		events:    events,
		logger:    logger,
		opts:      opts,
		active:    make(map[int64]string),
	}
}

// Run polls until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot running", "max_concurrent_chats", b.opts.MaxConcurrentChats, "poll_timeout", b.opts.PollTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if !b.opts.Circuit.Allow(time.Now()) {
			b.sleep(ctx)
			continue
		}
		n, err := b.PollOnce(ctx)
		if err != nil || n == 0 {
			b.sleep(ctx)
		}
	}
}

// PollOnce fetches one batch of updates and handles it. Chats are served
// concurrently; updates of one chat are handled in order. It returns the
// number of updates handled.
func (b *Bot) PollOnce(ctx context.Context) (int, error) {
	b.mu.Lock()
	offset := b.offset
	b.mu.Unlock()

	updates, err := b.commander.GetUpdates(ctx, offset, b.opts.PollTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		b.logger.Warn("getUpdates error", "error", err)
		if b.opts.Circuit.RecordFailure(time.Now()) {
			b.logger.Warn("poll circuit opened", "threshold", b.opts.Circuit.Threshold, "cooldown", b.opts.Circuit.Cooldown)
			b.event(ctx, db.EventCircuitOpened, map[string]any{
				"error":            err.Error(),
				"threshold":        b.opts.Circuit.Threshold,
				"cooldown_seconds": int(b.opts.Circuit.Cooldown.Seconds()),
			})
		}
		return 0, err
	}
	if b.opts.Circuit.RecordSuccess() {
		b.logger.Info("poll circuit closed")
		b.event(ctx, db.EventCircuitClosed, map[string]any{"recovered": true})
	}
	if len(updates) == 0 {
		return 0, nil
	}

	var order []int64
	byChat := make(map[int64][]cmdpkg.Update)
	for _, u := range updates {
		b.mu.Lock()
		if u.UpdateID >= b.offset {
			b.offset = u.UpdateID + 1
		}
		b.mu.Unlock()

		chatID, ok := chatOf(u)
		if !ok {
			continue
		}
		if _, seen := byChat[chatID]; !seen {
			order = append(order, chatID)
		}
		byChat[chatID] = append(byChat[chatID], u)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxConcurrentChats)
	for _, chatID := range order {
		chatID := chatID
		batch := byChat[chatID]
		g.Go(func() error {
			for _, u := range batch {
				if err := b.HandleUpdate(gctx, u); err != nil {
					b.logger.Error("failed to handle update", "update_id", u.UpdateID, "chat_id", chatID, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(updates), nil
}

func chatOf(u cmdpkg.Update) (int64, bool) {
	switch {
	case u.Message != nil:
		return u.Message.Chat.ID, true
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.Chat.ID, true
	default:
		return 0, false
	}
}

// ActivePersona returns the persona selected in a chat.
func (b *Bot) ActivePersona(chatID int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.active[chatID]
	return name, ok
}

func (b *Bot) setActive(chatID int64, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[chatID] = name
}

func (b *Bot) sleep(ctx context.Context) {
	if b.opts.Sleep <= 0 {
		return
	}
	t := time.NewTimer(b.opts.Sleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (b *Bot) event(ctx context.Context, eventType string, payload map[string]any) {
	if b.events == nil {
		return
	}
	if _, err := b.events.LogEvent(ctx, nil, eventType, payload); err != nil {
		b.logger.Warn("failed to log event", "event_type", eventType, "error", err)
	}
}
