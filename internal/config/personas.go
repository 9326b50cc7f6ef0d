package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel           = "gpt-4o-mini"
	DefaultTokens          = 750
	DefaultTemperature     = 1.0
	DefaultPresencePenalty = 0.0
)

// PersonaConfig is the validated configuration of one persona.
type PersonaConfig struct {
	Name         string
	Description  string
	AllowedUsers []string
	Model        ModelConfig
}

// ModelConfig carries the completion parameters and session ceilings of a
// persona. Nil ceilings are unset.
type ModelConfig struct {
	SystemMessage   string
	Model           string
	Tokens          int
	Temperature     float64
	PresencePenalty float64
	MaxMessages     *int
	MaxTokens       *int
	MaxChars        *int
}

// UserList decodes either a YAML sequence or a comma-separated string.
type UserList []string

func (u *UserList) UnmarshalYAML(value *yaml.Node) error {
	var raw []string
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*u = nil
			return nil
		}
		raw = strings.Split(value.Value, ",")
	case yaml.SequenceNode:
		if err := value.Decode(&raw); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: allowed_users must be a list or a comma-separated string", value.Line)
	}
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	*u = out
	return nil
}

type rawPersona struct {
	Description  string   `yaml:"description"`
	AllowedUsers UserList `yaml:"allowed_users"`
	Model        rawModel `yaml:"model"`
}

type rawModel struct {
	SystemMessage   string   `yaml:"system_message"`
	Model           string   `yaml:"model"`
	Tokens          *int     `yaml:"tokens"`
	Temperature     *float64 `yaml:"temperature"`
	PresencePenalty *float64 `yaml:"presence_penalty"`
	MaxMessages     *int     `yaml:"max_messages"`
	MaxTokens       *int     `yaml:"max_tokens"`
	MaxChars        *int     `yaml:"max_chars"`
}

// LoadPersonas reads and validates the persona file at path.
func LoadPersonas(path string) ([]PersonaConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read personas file: %w", err)
	}
	personas, err := ParsePersonas(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return personas, nil
}

// ParsePersonas decodes persona YAML, applies defaults, and validates each
// entry. The result is sorted by name.
func ParsePersonas(data []byte) ([]PersonaConfig, error) {
	var raw map[string]rawPersona
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse personas: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no personas defined")
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PersonaConfig, 0, len(names))
	for _, name := range names {
		p, err := resolvePersona(name, raw[name])
		if err != nil {
			return nil, fmt.Errorf("persona %q: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func resolvePersona(name string, r rawPersona) (PersonaConfig, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t\n") {
		return PersonaConfig{}, fmt.Errorf("name must be a single non-empty word")
	}
	m := r.Model
	if strings.TrimSpace(m.SystemMessage) == "" {
		return PersonaConfig{}, fmt.Errorf("model.system_message is required")
	}

	cfg := ModelConfig{
		SystemMessage:   m.SystemMessage,
		Model:           strings.TrimSpace(m.Model),
		Tokens:          DefaultTokens,
		Temperature:     DefaultTemperature,
		PresencePenalty: DefaultPresencePenalty,
		MaxMessages:     m.MaxMessages,
		MaxTokens:       m.MaxTokens,
		MaxChars:        m.MaxChars,
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if m.Tokens != nil {
		cfg.Tokens = *m.Tokens
	}
	if m.Temperature != nil {
		cfg.Temperature = *m.Temperature
	}
	if m.PresencePenalty != nil {
		cfg.PresencePenalty = *m.PresencePenalty
	}

	if cfg.Tokens <= 0 {
		return PersonaConfig{}, fmt.Errorf("model.tokens must be > 0")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return PersonaConfig{}, fmt.Errorf("model.temperature must be in [0, 2]")
	}
	// max_messages also caps today's history band, where 0 would mean
	// uncapped.
	if cfg.MaxMessages != nil && *cfg.MaxMessages <= 0 {
		return PersonaConfig{}, fmt.Errorf("model.max_messages must be > 0")
	}
	for field, v := range map[string]*int{
		"max_tokens": cfg.MaxTokens,
		"max_chars":    cfg.MaxChars,
	} {
		if v != nil && *v < 0 {
			return PersonaConfig{}, fmt.Errorf("model.%s must be >= 0", field)
		}
	}

	return PersonaConfig{
		Name:         name,
		Description:  strings.TrimSpace(r.Description),
		AllowedUsers: []string(r.AllowedUsers),
		Model:        cfg,
	}, nil
}
