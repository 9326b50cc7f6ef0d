// Package dummy provides scripted stand-ins for the messaging front-end and
// the completion provider.
//
// A script is a comma-separated list of actions consumed one per call; the
// last action repeats once the list is exhausted:
//
//	ok            succeed with a default payload
//	err:<class>   fail
//	sleep:<ms>    wait, then succeed
//	msg:<text>    succeed with text
//	msgb64:<b64>  succeed with base64-decoded text
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/chatgram/internal/commander"
	modelpkg "github.com/stupiduntilnot/chatgram/internal/model"
)

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		switch kind {
		case "err", "sleep", "msg", "msgb64":
			actions = append(actions, action{kind: kind, arg: arg})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// DefaultUser is the sender of scripted commander messages.
var DefaultUser = cmdpkg.User{ID: 1, FirstName: "Dummy", Username: "dummy"}

// Commander serves queued updates first and then the poll script. Every
// reply is recorded.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	queue    []cmdpkg.Update
	sent     []cmdpkg.Outgoing
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

// Push queues updates for the next GetUpdates call, assigning update ids
// to those without one. The queue is drained in a single batch.
func (c *Commander) Push(updates ...cmdpkg.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range updates {
		if u.UpdateID == 0 {
			c.updateID++
			u.UpdateID = c.updateID
		}
		c.queue = append(c.queue, u)
	}
}

// Sent returns a copy of every message delivered so far.
func (c *Commander) Sent() []cmdpkg.Outgoing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cmdpkg.Outgoing(nil), c.sent...)
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		out := c.queue
		c.queue = nil
		return out, nil
	}

	a := c.poll.next()
	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return nil, err
		}
		return nil, nil
	case "msg":
		return []cmdpkg.Update{c.textUpdate(a.arg)}, nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		return []cmdpkg.Update{c.textUpdate(string(raw))}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) textUpdate(text string) cmdpkg.Update {
	c.updateID++
	from := DefaultUser
	return cmdpkg.Update{
		UpdateID: c.updateID,
		Message: &cmdpkg.Message{
			MessageID: c.updateID,
			From:      &from,
			Chat:      cmdpkg.Chat{ID: 1, Type: "private"},
			Text:      &text,
			Date:      time.Now().Unix(),
		},
	}
}

func (c *Commander) SendMessage(ctx context.Context, out cmdpkg.Outgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.send.next()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.sent = append(c.sent, out)
	return nil
}

// Provider answers completion requests from a script.
type Provider struct {
	mu       sync.Mutex
	script   *scriptRunner
	requests []modelpkg.CompletionRequest
}

func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []modelpkg.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]modelpkg.CompletionRequest(nil), p.requests...)
}

func (p *Provider) ChatCompletion(ctx context.Context, req modelpkg.CompletionRequest) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	a := p.script.next()
	p.mu.Unlock()

	switch a.kind {
	case "err":
		return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, err
		}
		return modelpkg.CompletionResponse{Content: "dummy-after-sleep", TotalTokens: 2}, nil
	case "msg":
		return modelpkg.CompletionResponse{Content: a.arg, TotalTokens: 2}, nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return modelpkg.CompletionResponse{Content: string(raw), TotalTokens: 2}, nil
	default:
		return modelpkg.CompletionResponse{Content: "dummy-ok", TotalTokens: 2}, nil
	}
}

func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
