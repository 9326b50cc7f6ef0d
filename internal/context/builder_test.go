package context

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/chatgram/internal/store"
)

type fakeReader struct {
	rows      []store.Message
	err       error
	gotLimit  int
	gotSessID string
}

func (f *fakeReader) Recent(_ context.Context, sessionID string, limit int) ([]store.Message, error) {
	f.gotSessID = sessionID
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func TestNewBuilder_Defaults(t *testing.T) {
	b := NewBuilder(&fakeReader{}, 0)
	assert.Equal(t, DefaultFetchLimit, b.FetchLimit)
	assert.Equal(t, 0, b.Window.TodayCap)

	b = NewBuilder(&fakeReader{}, 12)
	assert.Equal(t, 12, b.FetchLimit)
	assert.Equal(t, 12, b.Window.TodayCap)
}

func TestBuilder_Build(t *testing.T) {
	r := &fakeReader{rows: rowsAged(0, 0, 1, 9)}
	b := NewBuilder(r, 10)
	b.Now = func() time.Time { return testNow }

	h, err := b.Build(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", r.gotSessID)
	assert.Equal(t, 10, r.gotLimit)
	assert.Equal(t, 4, h.Fetched)
	require.Len(t, h.Messages, 3)
	assert.Equal(t, "age1-2", h.Messages[0].Content)
}

func TestBuilder_ReadErrorPropagates(t *testing.T) {
	b := NewBuilder(&fakeReader{err: &store.StorageError{Op: "recent", Err: errors.New("disk")}}, 5)
	_, err := b.Build(context.Background(), "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
}

func TestBuilder_AgainstSQLite(t *testing.T) {
	clock := testNow.AddDate(0, 0, -2)
	s, err := store.Open(":memory:", store.WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	u, err := s.UpsertUser(ctx, "alice")
	require.NoError(t, err)
	sess, err := s.CreateSession(ctx, store.Session{ID: "s1", Persona: "p", UserID: u.ID, ChatID: "1"})
	require.NoError(t, err)

	for _, text := range []string{"old1", "old2", "old3"} {
		_, err := s.Append(ctx, store.NewMessage{SessionID: sess.ID, Role: store.RoleUser, Text: text, User: "alice"})
		require.NoError(t, err)
	}
	clock = testNow
	_, err = s.Append(ctx, store.NewMessage{SessionID: sess.ID, Role: store.RoleUser, Text: "q", User: "alice"})
	require.NoError(t, err)
	_, err = s.Append(ctx, store.NewMessage{SessionID: sess.ID, Role: store.RoleAssistant, Text: "a", User: "alice"})
	require.NoError(t, err)

	b := NewBuilder(s, 0)
	b.Now = func() time.Time { return testNow }
	h, err := b.Build(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, 5, h.Fetched)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "old1"},
		{Role: RoleUser, Content: "old2"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
	}, h.Messages)
}
