package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestStore(t *testing.T) (*SQLite, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s, err := Open(t.TempDir()+"/store.db", WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func seedSession(t *testing.T, s *SQLite, id string) Session {
	t.Helper()
	ctx := context.Background()
	u, err := s.UpsertUser(ctx, "alice")
	require.NoError(t, err)
	sess, err := s.CreateSession(ctx, Session{ID: id, Persona: "pirate", UserID: u.ID, ChatID: "100"})
	require.NoError(t, err)
	return sess
}

func intPtr(v int) *int { return &v }

func TestAppendRecent_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1")

	meta := map[string]any{"chat_id": "100", "chat_type": "private", "is_bot": false}
	written, err := s.Append(ctx, NewMessage{
		SessionID:  "s1",
		Role:       RoleAssistant,
		Text:       "Ahoy!",
		TokenCount: intPtr(42),
		User:       "alice",
		Metadata:   meta,
	})
	require.NoError(t, err)
	assert.Positive(t, written.ID)

	got, err := s.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	m := got[0]
	assert.Equal(t, written.ID, m.ID)
	assert.Equal(t, RoleAssistant, m.Role)
	assert.Equal(t, "Ahoy!", m.Text)
	require.NotNil(t, m.Response)
	assert.Equal(t, "Ahoy!", *m.Response)
	require.NotNil(t, m.TokenCount)
	assert.Equal(t, 42, *m.TokenCount)
	assert.Equal(t, "alice", m.User)
	assert.Equal(t, meta, m.Metadata)
	assert.True(t, written.CreatedAt.Equal(m.CreatedAt))
}

func TestAppend_UserTurnHasNoResponse(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1")

	_, err := s.Append(ctx, NewMessage{SessionID: "s1", Role: RoleUser, Text: "hello", User: "alice"})
	require.NoError(t, err)

	got, err := s.Recent(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Response)
	assert.Nil(t, got[0].TokenCount)
	assert.Nil(t, got[0].Metadata)
	assert.Equal(t, "hello", got[0].Content())
}

func TestRecent_NewestFirstAndBounded(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1")

	for _, text := range []string{"m1", "m2", "m3", "m4", "m5"} {
		_, err := s.Append(ctx, NewMessage{SessionID: "s1", Role: RoleUser, Text: text, User: "alice"})
		require.NoError(t, err)
	}

	got, err := s.Recent(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m5", "m4", "m3"}, []string{got[0].Text, got[1].Text, got[2].Text})
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].CreatedAt.After(got[i].CreatedAt), "expected strictly descending created_at")
	}

	none, err := s.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecent_TiesBrokenByID(t *testing.T) {
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s, err := Open(t.TempDir()+"/tie.db", WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	seedSession(t, s, "s1")

	for _, text := range []string{"a", "b", "c"} {
		_, err := s.Append(ctx, NewMessage{SessionID: "s1", Role: RoleUser, Text: text, User: "alice"})
		require.NoError(t, err)
	}
	got, err := s.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Text)
	assert.Equal(t, "a", got[2].Text)
}

func TestRecent_IsolatesSessions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, "s1")
	_, err := s.CreateSession(ctx, Session{ID: "s2", Persona: "poet", UserID: sess.UserID, ChatID: "100"})
	require.NoError(t, err)

	_, err = s.Append(ctx, NewMessage{SessionID: "s1", Role: RoleUser, Text: "one", User: "alice"})
	require.NoError(t, err)
	_, err = s.Append(ctx, NewMessage{SessionID: "s2", Role: RoleUser, Text: "two", User: "alice"})
	require.NoError(t, err)

	got, err := s.Recent(ctx, "s2", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Text)
}

func TestAppend_FailureIsStorageErrorAndNothingWritten(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, NewMessage{SessionID: "missing", Role: RoleUser, Text: "x", User: "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "append", se.Op)

	got, err := s.Recent(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppend_RejectsUnknownRole(t *testing.T) {
	s, _ := newTestStore(t)
	seedSession(t, s, "s1")
	_, err := s.Append(context.Background(), NewMessage{SessionID: "s1", Role: "system", Text: "x", User: "alice"})
	assert.ErrorIs(t, err, ErrStorage)
}

func TestTotals(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1")

	_, err := s.Append(ctx, NewMessage{SessionID: "s1", Role: RoleUser, Text: "héllo", User: "alice"})
	require.NoError(t, err)
	_, err = s.Append(ctx, NewMessage{SessionID: "s1", Role: RoleAssistant, Text: "hi", TokenCount: intPtr(30), User: "alice"})
	require.NoError(t, err)

	totals, err := s.Totals(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, Totals{Messages: 2, Tokens: 30, Chars: 7}, totals)

	empty, err := s.Totals(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, Totals{}, empty)
}

func TestUpsertUser_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.UpsertUser(ctx, "bob")
	require.NoError(t, err)
	b, err := s.UpsertUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	_, err = s.UpsertUser(ctx, "  ")
	assert.ErrorIs(t, err, ErrStorage)
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, "s1")

	live, err := s.LiveSession(ctx, sess.UserID, "pirate")
	require.NoError(t, err)
	assert.Equal(t, "s1", live.ID)

	_, err = s.Append(ctx, NewMessage{SessionID: "s1", Role: RoleUser, Text: "keep me", User: "alice"})
	require.NoError(t, err)

	require.NoError(t, s.ResetSession(ctx, "s1"))
	assert.ErrorIs(t, s.ResetSession(ctx, "s1"), ErrNotFound)

	_, err = s.LiveSession(ctx, sess.UserID, "pirate")
	assert.ErrorIs(t, err, ErrNotFound)

	old, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, old.ResetAt)

	msgs, err := s.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep me", msgs[0].Text)

	_, err = s.CreateSession(ctx, Session{ID: "s2", Persona: "pirate", UserID: sess.UserID, ChatID: "100"})
	require.NoError(t, err)
}

func TestCreateSession_SecondLiveSessionFails(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, "s1")

	_, err := s.CreateSession(ctx, Session{ID: "s2", Persona: "pirate", UserID: sess.UserID, ChatID: "200"})
	assert.ErrorIs(t, err, ErrStorage)
}

func TestGetSession_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
