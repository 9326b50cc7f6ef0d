package persona

import (
	"fmt"

	"github.com/stupiduntilnot/chatgram/internal/config"
	"github.com/stupiduntilnot/chatgram/internal/model"
)

// Manager owns one Runtime per configured persona.
type Manager struct {
	runtimes map[string]*Runtime
	order    []string
}

// NewManager builds runtimes for every persona config, in config order.
func NewManager(cfgs []config.PersonaConfig, s Store, provider model.Provider, opts ...RuntimeOption) (*Manager, error) {
	m := &Manager{runtimes: make(map[string]*Runtime, len(cfgs))}
	for _, c := range cfgs {
		if _, dup := m.runtimes[c.Name]; dup {
			return nil, fmt.Errorf("duplicate persona %q", c.Name)
		}
		m.runtimes[c.Name] = NewRuntime(FromConfig(c), s, provider, opts...)
		m.order = append(m.order, c.Name)
	}
	if len(m.order) == 0 {
		return nil, fmt.Errorf("no personas configured")
	}
	return m, nil
}

// Get returns the runtime of a persona by name.
func (m *Manager) Get(name string) (*Runtime, bool) {
	r, ok := m.runtimes[name]
	return r, ok
}

// Authorize returns the runtime of name if user may talk to it.
func (m *Manager) Authorize(name, user string) (*Runtime, error) {
	r, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPersona, name)
	}
	if !r.persona.Allows(user) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, name)
	}
	return r, nil
}

// Personas lists every persona in config order.
func (m *Manager) Personas() []Persona {
	out := make([]Persona, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.runtimes[name].Persona())
	}
	return out
}

// Available lists the personas user may talk to.
func (m *Manager) Available(user string) []Persona {
	var out []Persona
	for _, p := range m.Personas() {
		if p.Allows(user) {
			out = append(out, p)
		}
	}
	return out
}
