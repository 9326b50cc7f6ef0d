package dummy

import (
	"context"
	"testing"
	"time"

	cmdpkg "github.com/stupiduntilnot/chatgram/internal/commander"
	ctxpkg "github.com/stupiduntilnot/chatgram/internal/context"
	modelpkg "github.com/stupiduntilnot/chatgram/internal/model"
)

func req() modelpkg.CompletionRequest {
	return modelpkg.CompletionRequest{Model: "x", Messages: []ctxpkg.Message{{Role: "user", Content: "hi"}}}
}

func TestNewProvider_InvalidScript(t *testing.T) {
	if _, err := NewProvider("boom"); err == nil {
		t.Fatal("expected parse error for invalid script")
	}
	if _, err := NewProvider("nope:1"); err == nil {
		t.Fatal("expected parse error for unknown action")
	}
}

func TestProvider_ScriptedResponses(t *testing.T) {
	p, err := NewProvider("err:provider_api,msg:hello")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.ChatCompletion(context.Background(), req()); err == nil {
		t.Fatal("expected first call to error")
	}

	resp, err := p.ChatCompletion(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" || resp.TotalTokens != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// The last action repeats.
	resp, err = p.ChatCompletion(context.Background(), req())
	if err != nil || resp.Content != "hello" {
		t.Fatalf("expected repeated hello, got %+v err=%v", resp, err)
	}
	if n := len(p.Requests()); n != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", n)
	}
}

func TestProvider_MsgB64Action(t *testing.T) {
	p, err := NewProvider("msgb64:aGVsbG8=") // "hello"
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.ChatCompletion(context.Background(), req())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected hello, got %q", resp.Content)
	}
}

func TestProvider_SleepHonorsContext(t *testing.T) {
	p, err := NewProvider("sleep:5000")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.ChatCompletion(ctx, req()); err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestCommander_MsgAction(t *testing.T) {
	c, err := NewCommander("msg:test-msg", "ok")
	if err != nil {
		t.Fatal(err)
	}
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 || updates[0].Message == nil || updates[0].Message.Text == nil {
		t.Fatalf("unexpected updates: %+v", updates)
	}
	if *updates[0].Message.Text != "test-msg" {
		t.Fatalf("expected test-msg, got %q", *updates[0].Message.Text)
	}
	if updates[0].Message.From == nil || updates[0].Message.From.Username != DefaultUser.Username {
		t.Fatalf("expected default sender, got %+v", updates[0].Message.From)
	}
}

func TestCommander_QueueAndSent(t *testing.T) {
	c, err := NewCommander("", "err:boom,ok")
	if err != nil {
		t.Fatal(err)
	}
	text := "hi"
	c.Push(cmdpkg.Update{Message: &cmdpkg.Message{Chat: cmdpkg.Chat{ID: 4}, Text: &text}})

	updates, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil || len(updates) != 1 || updates[0].UpdateID == 0 {
		t.Fatalf("unexpected queued updates: %+v err=%v", updates, err)
	}
	updates, _ = c.GetUpdates(context.Background(), 0, 0)
	if len(updates) != 0 {
		t.Fatalf("expected queue drained, got %+v", updates)
	}

	if err := c.SendMessage(context.Background(), cmdpkg.Outgoing{ChatID: 4, Text: "a"}); err == nil {
		t.Fatal("expected scripted send error")
	}
	if err := c.SendMessage(context.Background(), cmdpkg.Outgoing{ChatID: 4, Text: "b"}); err != nil {
		t.Fatal(err)
	}
	sent := c.Sent()
	if len(sent) != 1 || sent[0].Text != "b" {
		t.Fatalf("unexpected sent: %+v", sent)
	}
}
