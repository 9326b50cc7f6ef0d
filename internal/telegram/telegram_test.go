package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	cmdpkg "github.com/stupiduntilnot/chatgram/internal/commander"
)

func TestGetUpdates_ParsesMessageMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getUpdates" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("offset") != "5" || r.URL.Query().Get("timeout") != "30" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":5,"message":{"message_id":77,"from":{"id":9,"first_name":"Ann","last_name":"Lee","username":"ann","language_code":"en"},"chat":{"id":-100,"type":"group","title":"Team"},"text":"hello","date":1700000000}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, nil)
	updates, err := c.GetUpdates(context.Background(), 5, 30)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 1 || updates[0].Message == nil {
		t.Fatalf("unexpected updates: %#v", updates)
	}
	m := updates[0].Message
	if m.MessageID != 77 || m.From == nil || m.From.Username != "ann" || m.From.LanguageCode != "en" {
		t.Fatalf("unexpected message: %#v", m)
	}
	if !m.Chat.IsGroup() || m.Chat.Title != "Team" {
		t.Fatalf("unexpected chat: %#v", m.Chat)
	}
	if m.Text == nil || *m.Text != "hello" {
		t.Fatalf("unexpected text: %v", m.Text)
	}
}

func TestGetUpdates_AnswersCallbackQuery(t *testing.T) {
	var answered string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getUpdates":
			_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":11,"callback_query":{"id":"cb-1","from":{"id":3,"username":"bob"},"data":"tutor","message":{"message_id":4,"chat":{"id":123,"type":"private"},"date":1700000000}}}]}`)
		case "/answerCallbackQuery":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			answered = body["callback_query_id"]
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, nil)
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 1 || updates[0].CallbackQuery == nil {
		t.Fatalf("unexpected updates: %#v", updates)
	}
	cb := updates[0].CallbackQuery
	if cb.Data != "tutor" || cb.From.Username != "bob" || cb.Message.Chat.ID != 123 {
		t.Fatalf("unexpected callback: %#v", cb)
	}
	if answered != "cb-1" {
		t.Fatalf("expected answerCallbackQuery for cb-1, got %q", answered)
	}
}

func TestGetUpdates_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, nil)
	_, err := c.GetUpdates(context.Background(), 0, 0)
	if err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected not-ok error, got %v", err)
	}
}

func TestSendMessage_ReplyAndKeyboard(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, nil)
	err := c.SendMessage(context.Background(), cmdpkg.Outgoing{
		ChatID:           123,
		Text:             "pick one",
		ReplyToMessageID: 8,
		Keyboard:         [][]cmdpkg.Button{{{Text: "Tutor", CallbackData: "tutor"}}},
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if got.ChatID != 123 || got.Text != "pick one" || got.ReplyToMessageID != 8 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.ReplyMarkup == nil || got.ReplyMarkup.InlineKeyboard[0][0].CallbackData != "tutor" {
		t.Fatalf("expected inline keyboard, got %+v", got.ReplyMarkup)
	}
}

func TestSendMessage_TruncatesAndOmitsOptional(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		raw = string(body)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, nil)
	if err := c.SendMessage(context.Background(), cmdpkg.Outgoing{ChatID: 1, Text: strings.Repeat("é", 5000)}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if strings.Contains(raw, "reply_markup") || strings.Contains(raw, "reply_to_message_id") {
		t.Fatalf("expected optional fields omitted: %s", raw)
	}
	var got sendMessageRequest
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatal(err)
	}
	if n := utf8.RuneCountInString(got.Text); n != MaxMessageRunes {
		t.Fatalf("expected %d runes, got %d", MaxMessageRunes, n)
	}
}

func TestSendMessage_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second, nil)
	if err := c.SendMessage(context.Background(), cmdpkg.Outgoing{ChatID: 1, Text: "x"}); err == nil {
		t.Fatal("expected error on 400")
	}
}
