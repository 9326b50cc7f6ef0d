// Package session maps (chat, persona, user) to durable conversation
// sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/stupiduntilnot/chatgram/internal/store"
)

// ErrNothingToReset is returned by Reset when no live session exists.
var ErrNothingToReset = errors.New("no session to reset")

// Store is the persistence the registry reads through to.
type Store interface {
	UpsertUser(ctx context.Context, username string) (store.User, error)
	LiveSession(ctx context.Context, userID int64, persona string) (store.Session, error)
	CreateSession(ctx context.Context, sess store.Session) (store.Session, error)
	ResetSession(ctx context.Context, id string) error
}

type cacheKey struct {
	chatID  string
	persona string
}

type cacheEntry struct {
	session store.Session
	user    string
}

type lockKey struct {
	user    string
	persona string
}

// Registry resolves sessions lazily and caches them per (chat, persona).
type Registry struct {
	store  Store
	logger *slog.Logger
	newID  func() string

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry

	locksMu sync.Mutex
	locks   map[lockKey]*sync.Mutex
}

// NewRegistry returns an empty registry backed by s.
func NewRegistry(s Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		logger: logger,
		newID:  uuid.NewString,
		cache:  make(map[cacheKey]cacheEntry),
		locks:  make(map[lockKey]*sync.Mutex),
	}
}

// Lock acquires the mutex of one (user, persona) conversation and returns
// its release function.
func (r *Registry) Lock(user, persona string) func() {
	k := lockKey{user: user, persona: persona}
	r.locksMu.Lock()
	m, ok := r.locks[k]
	if !ok {
		m = &sync.Mutex{}
		r.locks[k] = m
	}
	r.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

// Resolve returns the live session for user talking to persona in chatID,
// creating one when none exists. A cached session of another user in the
// same chat is ignored.
func (r *Registry) Resolve(ctx context.Context, chatID, persona, user string) (store.Session, error) {
	k := cacheKey{chatID: chatID, persona: persona}
	r.mu.Lock()
	e, ok := r.cache[k]
	r.mu.Unlock()
	if ok && e.user == user {
		return e.session, nil
	}

	u, err := r.store.UpsertUser(ctx, user)
	if err != nil {
		return store.Session{}, err
	}

	sess, err := r.store.LiveSession(ctx, u.ID, persona)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sess, err = r.create(ctx, chatID, persona, u)
		if err != nil {
			return store.Session{}, err
		}
	case err != nil:
		return store.Session{}, err
	}

	r.mu.Lock()
	r.cache[k] = cacheEntry{session: sess, user: user}
	r.mu.Unlock()
	return sess, nil
}

func (r *Registry) create(ctx context.Context, chatID, persona string, u store.User) (store.Session, error) {
	sess, err := r.store.CreateSession(ctx, store.Session{
		ID:      r.newID(),
		Persona: persona,
		UserID:  u.ID,
		ChatID:  chatID,
	})
	if err == nil {
		r.logger.Info("session created", "session_id", sess.ID, "persona", persona, "user", u.Username, "chat_id", chatID)
		return sess, nil
	}
	// Another caller may have created the live session first.
	if existing, lerr := r.store.LiveSession(ctx, u.ID, persona); lerr == nil {
		return existing, nil
	}
	return store.Session{}, fmt.Errorf("failed to create session: %w", err)
}

// Reset unlinks the live session of user talking to persona and evicts it
// from the cache. chatID only selects the cache entry; a cached session of
// another user in the same chat is ignored. Its messages stay in storage.
// ErrNothingToReset is returned when the user has no live session.
func (r *Registry) Reset(ctx context.Context, chatID, persona, user string) error {
	k := cacheKey{chatID: chatID, persona: persona}
	r.mu.Lock()
	e, ok := r.cache[k]
	r.mu.Unlock()

	sess := e.session
	if !ok || e.user != user {
		u, err := r.store.UpsertUser(ctx, user)
		if err != nil {
			return err
		}
		sess, err = r.store.LiveSession(ctx, u.ID, persona)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNothingToReset
		}
		if err != nil {
			return err
		}
	}

	err := r.store.ResetSession(ctx, sess.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	r.evict(sess.ID)
	if err != nil {
		return ErrNothingToReset
	}
	r.logger.Info("session reset", "session_id", sess.ID, "persona", persona, "user", user, "chat_id", chatID)
	return nil
}

func (r *Registry) evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.cache {
		if e.session.ID == sessionID {
			delete(r.cache, k)
		}
	}
}
