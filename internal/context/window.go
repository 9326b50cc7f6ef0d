package context

import (
	"time"

	"github.com/stupiduntilnot/chatgram/internal/store"
)

const (
	DefaultRecentCap  = 2
	DefaultMaxAgeDays = 7
)

// DecayWindow selects prompt history by message age in calendar days.
// Messages older than MaxAgeDays are dropped, at most RecentCap messages
// between one and MaxAgeDays days old are kept, and at most TodayCap
// messages from today are kept (TodayCap <= 0 keeps all of today).
type DecayWindow struct {
	TodayCap   int
	RecentCap  int
	MaxAgeDays int
}

// NewDecayWindow returns a window with the default recent-past band.
func NewDecayWindow(todayCap int) DecayWindow {
	return DecayWindow{
		TodayCap:   todayCap,
		RecentCap:  DefaultRecentCap,
		MaxAgeDays: DefaultMaxAgeDays,
	}
}

// Select walks rows given newest first in chronological order and returns
// the kept messages oldest first. Each band cap is filled by the oldest
// qualifying rows.
func (w DecayWindow) Select(now time.Time, newestFirst []store.Message) []Message {
	out := make([]Message, 0, len(newestFirst))
	var todayCount, recentCount int

	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		if m.Role != store.RoleUser && m.Role != store.RoleAssistant {
			continue
		}
		age := AgeDays(now, m.CreatedAt)
		switch {
		case age > int64(w.MaxAgeDays):
			continue
		case age > 0:
			if recentCount >= w.RecentCap {
				continue
			}
			recentCount++
		default:
			// Rows stamped after "now" count as today.
			if w.TodayCap > 0 && todayCount >= w.TodayCap {
				continue
			}
			todayCount++
		}
		out = append(out, Message{Role: string(m.Role), Content: m.Content()})
	}
	return out
}

// AgeDays returns the calendar-day difference between now and t, using the
// location of now.
func AgeDays(now, t time.Time) int64 {
	return civilDay(now) - civilDay(t.In(now.Location()))
}

func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
