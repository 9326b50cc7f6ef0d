package control

import (
	"fmt"
	"unicode/utf8"

	"github.com/stupiduntilnot/chatgram/internal/store"
)

// Limits holds a persona's optional per-session ceilings. A nil ceiling
// does not constrain anything.
type Limits struct {
	MaxMessages *int
	MaxTokens   *int
	MaxChars    *int
}

// LimitType identifies which ceiling is reached.
type LimitType string

const (
	LimitMessages LimitType = "max_messages"
	LimitTokens   LimitType = "max_tokens"
	LimitChars    LimitType = "max_chars"
)

// LimitError indicates a session ceiling was reached.
type LimitError struct {
	Type      LimitType
	Value     int64
	Threshold int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit reached type=%s value=%d threshold=%d", e.Type, e.Value, e.Threshold)
}

// CheckSession validates accumulated message and token totals. It runs
// before history is fetched.
func CheckSession(l Limits, t store.Totals) error {
	if l.MaxMessages != nil && t.Messages >= *l.MaxMessages {
		return &LimitError{Type: LimitMessages, Value: int64(t.Messages), Threshold: int64(*l.MaxMessages)}
	}
	if l.MaxTokens != nil && t.Tokens >= *l.MaxTokens {
		return &LimitError{Type: LimitTokens, Value: int64(t.Tokens), Threshold: int64(*l.MaxTokens)}
	}
	return nil
}

// CheckMessage validates the character ceiling against the session history
// plus the outgoing user message.
func CheckMessage(l Limits, t store.Totals, text string) error {
	if l.MaxChars == nil {
		return nil
	}
	total := t.Chars + utf8.RuneCountInString(text)
	if total > *l.MaxChars {
		return &LimitError{Type: LimitChars, Value: int64(total), Threshold: int64(*l.MaxChars)}
	}
	return nil
}

// Allowed reports whether a session may accept another exchange. An empty
// candidate skips the character ceiling.
func Allowed(l Limits, t store.Totals, candidate string) bool {
	if CheckSession(l, t) != nil {
		return false
	}
	if candidate == "" {
		return true
	}
	return CheckMessage(l, t, candidate) == nil
}
