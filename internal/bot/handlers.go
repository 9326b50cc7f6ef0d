package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	cmdpkg "github.com/stupiduntilnot/chatgram/internal/commander"
	"github.com/stupiduntilnot/chatgram/internal/persona"
	"github.com/stupiduntilnot/chatgram/internal/session"
	"github.com/stupiduntilnot/chatgram/internal/store"
)

// request is the normalized view of one update.
type request struct {
	chat      cmdpkg.Chat
	user      cmdpkg.User
	messageID int64
	callback  bool
}

func (r request) username() string {
	if r.user.Username != "" {
		return r.user.Username
	}
	return "id" + strconv.FormatInt(r.user.ID, 10)
}

func (r request) chatKey() string {
	return strconv.FormatInt(r.chat.ID, 10)
}

// HandleUpdate answers one update. The returned error reports a failed
// delivery; handling failures are answered in-chat and logged.
func (b *Bot) HandleUpdate(ctx context.Context, u cmdpkg.Update) error {
	if cb := u.CallbackQuery; cb != nil {
		if cb.Message == nil {
			return nil
		}
		req := request{chat: cb.Message.Chat, user: cb.From, messageID: cb.Message.MessageID, callback: true}
		data := strings.TrimSpace(cb.Data)
		if data == helpCallback {
			return b.reply(ctx, req, msgHelp, nil)
		}
		return b.selectPersona(ctx, req, data)
	}

	m := u.Message
	if m == nil || m.Text == nil {
		return nil
	}
	text := strings.TrimSpace(*m.Text)
	if text == "" {
		return nil
	}
	req := request{chat: m.Chat, messageID: m.MessageID}
	if m.From != nil {
		req.user = *m.From
	}

	if cmd, args, ok := parseCommand(text); ok {
		switch cmd {
		case "start":
			return b.reply(ctx, req, msgGreeting, personaKeyboard(b.personas.Available(req.username())))
		case "persona":
			if len(args) == 0 {
				return b.reply(ctx, req, msgChoosePersona, personaKeyboard(b.personas.Available(req.username())))
			}
			if args[0] == helpCallback {
				return b.reply(ctx, req, msgHelp, nil)
			}
			return b.selectPersona(ctx, req, args[0])
		case "list_personas":
			return b.reply(ctx, req, personaList(b.personas.Available(req.username())), nil)
		case "help":
			return b.reply(ctx, req, msgHelp, nil)
		case "reset":
			return b.reset(ctx, req)
		default:
			b.logger.Debug("ignoring unknown command", "command", cmd, "chat_id", req.chat.ID)
			return nil
		}
	}
	return b.turn(ctx, req, text)
}

// parseCommand splits "/name@bot arg ..." into its name and arguments.
func parseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

func (b *Bot) selectPersona(ctx context.Context, req request, name string) error {
	user := req.username()
	if _, err := b.personas.Authorize(name, user); err != nil {
		if errors.Is(err, persona.ErrUnauthorized) {
			b.logger.Warn("persona access denied", "user", user, "persona", name)
			return b.reply(ctx, req, msgAccessDenied, nil)
		}
		b.logger.Warn("invalid persona selection", "user", user, "persona", name)
		return b.reply(ctx, req, msgInvalidPersona, nil)
	}

	unlock := b.sessions.Lock(user, name)
	_, err := b.sessions.Resolve(ctx, req.chatKey(), name, user)
	unlock()
	if err != nil {
		b.logger.Error("failed to resolve session", "user", user, "persona", name, "chat_id", req.chat.ID, "error", err)
		return b.reply(ctx, req, msgStorageFailure, nil)
	}

	b.setActive(req.chat.ID, name)
	b.logger.Info("persona selected", "user", user, "persona", name, "chat_id", req.chat.ID)
	if req.callback {
		return b.reply(ctx, req, msgPersonaChosen(name), nil)
	}
	return b.reply(ctx, req, msgPersonaSet(name), nil)
}

func (b *Bot) reset(ctx context.Context, req request) error {
	name, ok := b.ActivePersona(req.chat.ID)
	if !ok {
		return b.reply(ctx, req, msgNoActive, nil)
	}

	user := req.username()
	unlock := b.sessions.Lock(user, name)
	err := b.sessions.Reset(ctx, req.chatKey(), name, user)
	unlock()
	switch {
	case errors.Is(err, session.ErrNothingToReset):
		return b.reply(ctx, req, msgNothingToReset(name), nil)
	case err != nil:
		b.logger.Error("failed to reset session", "persona", name, "chat_id", req.chat.ID, "error", err)
		return b.reply(ctx, req, msgStorageFailure, nil)
	}
	return b.reply(ctx, req, msgResetDone(name), nil)
}

func (b *Bot) turn(ctx context.Context, req request, text string) error {
	name, ok := b.ActivePersona(req.chat.ID)
	if !ok {
		b.logger.Info("no active persona, prompting selection", "chat_id", req.chat.ID)
		return b.reply(ctx, req, msgNeedPersona, personaKeyboard(b.personas.Available(req.username())))
	}

	user := req.username()
	rt, err := b.personas.Authorize(name, user)
	if err != nil {
		return b.reply(ctx, req, msgAccessDenied, nil)
	}

	unlock := b.sessions.Lock(user, name)
	reply, err := func() (string, error) {
		defer unlock()
		sess, err := b.sessions.Resolve(ctx, req.chatKey(), name, user)
		if err != nil {
			return "", err
		}
		return rt.HandleTurn(ctx, sess, text, user, metadata(req))
	}()
	if err != nil {
		b.logger.Error("turn failed", "persona", name, "user", user, "chat_id", req.chat.ID,
			"storage", errors.Is(err, store.ErrStorage), "error", err)
		return b.reply(ctx, req, msgStorageFailure, nil)
	}
	return b.reply(ctx, req, reply, nil)
}

func metadata(req request) map[string]any {
	return map[string]any{
		"chat_id":            req.chatKey(),
		"chat_type":          req.chat.Type,
		"chat_title":         req.chat.Title,
		"user_id":            req.user.ID,
		"user_first_name":    req.user.FirstName,
		"user_last_name":     req.user.LastName,
		"user_username":      req.user.Username,
		"user_language_code": req.user.LanguageCode,
		"message_id":         req.messageID,
	}
}

func (b *Bot) reply(ctx context.Context, req request, text string, keyboard [][]cmdpkg.Button) error {
	out := cmdpkg.Outgoing{ChatID: req.chat.ID, Text: text, Keyboard: keyboard}
	if req.chat.IsGroup() && !req.callback {
		out.ReplyToMessageID = req.messageID
	}
	return b.commander.SendMessage(ctx, out)
}
