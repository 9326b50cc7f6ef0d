// Package persona runs one request/response cycle of a configured persona.
package persona

import (
	"errors"
	"slices"

	"github.com/stupiduntilnot/chatgram/internal/config"
	"github.com/stupiduntilnot/chatgram/internal/control"
)

var (
	// ErrUnknownPersona is returned for names not present in the config.
	ErrUnknownPersona = errors.New("unknown persona")
	// ErrUnauthorized is returned when a user may not talk to a persona.
	ErrUnauthorized = errors.New("user not allowed for persona")
)

// Persona is the immutable configuration of one chatbot personality.
type Persona struct {
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	SystemMessage   string         `json:"-"`
	Model           string         `json:"model"`
	Tokens          int            `json:"tokens"`
	Temperature     float64        `json:"temperature"`
	PresencePenalty float64        `json:"presence_penalty"`
	Limits          control.Limits `json:"-"`
	AllowedUsers    []string       `json:"allowed_users,omitempty"`
}

// FromConfig converts a validated persona config.
func FromConfig(c config.PersonaConfig) Persona {
	return Persona{
		Name:            c.Name,
		Description:     c.Description,
		SystemMessage:   c.Model.SystemMessage,
		Model:           c.Model.Model,
		Tokens:          c.Model.Tokens,
		Temperature:     c.Model.Temperature,
		PresencePenalty: c.Model.PresencePenalty,
		Limits: control.Limits{
			MaxMessages: c.Model.MaxMessages,
			MaxTokens:   c.Model.MaxTokens,
			MaxChars:    c.Model.MaxChars,
		},
		AllowedUsers: append([]string(nil), c.AllowedUsers...),
	}
}

// Allows reports whether user may talk to the persona. An empty allow list
// admits everyone.
func (p Persona) Allows(user string) bool {
	return len(p.AllowedUsers) == 0 || slices.Contains(p.AllowedUsers, user)
}

// MaxMessages returns the message ceiling, or 0 when unset.
func (p Persona) MaxMessages() int {
	if p.Limits.MaxMessages == nil {
		return 0
	}
	return *p.Limits.MaxMessages
}
