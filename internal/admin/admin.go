// Package admin serves a read-only HTTP view of personas and sessions.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/stupiduntilnot/chatgram/internal/control"
	"github.com/stupiduntilnot/chatgram/internal/persona"
	"github.com/stupiduntilnot/chatgram/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// Store is the read side the admin server needs.
type Store interface {
	GetSession(ctx context.Context, id string) (store.Session, error)
	Recent(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
	Totals(ctx context.Context, sessionID string) (store.Totals, error)
}

// Server wraps the echo instance.
type Server struct {
	echo     *echo.Echo
	store    Store
	personas *persona.Manager
	logger   *slog.Logger
}

func New(s Store, personas *persona.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{echo: e, store: s, personas: personas, logger: logger}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("admin request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	srv.RegisterRoutes(e)
	return srv
}

// RegisterRoutes registers all admin routes.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.Health)
	e.GET("/v1/personas", s.ListPersonas)
	e.GET("/v1/sessions/:session_id", s.GetSession)
	e.GET("/v1/sessions/:session_id/messages", s.GetSessionMessages)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("admin server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Health reports liveness.
// GET /healthz
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type personaView struct {
	persona.Persona
	MaxMessages *int `json:"max_messages,omitempty"`
	MaxTokens   *int `json:"max_tokens,omitempty"`
	MaxChars    *int `json:"max_chars,omitempty"`
}

// ListPersonas lists configured personas and their ceilings.
// GET /v1/personas
func (s *Server) ListPersonas(c echo.Context) error {
	all := s.personas.Personas()
	views := make([]personaView, 0, len(all))
	for _, p := range all {
		views = append(views, personaView{
			Persona:     p,
			MaxMessages: p.Limits.MaxMessages,
			MaxTokens:   p.Limits.MaxTokens,
			MaxChars:    p.Limits.MaxChars,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"personas": views})
}

// GetSession returns a session, live or reset, with its totals. accepting
// reports whether the session is live and under its persona's ceilings.
// GET /v1/sessions/:session_id
func (s *Server) GetSession(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("session_id")

	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	if err != nil {
		s.logger.Error("failed to get session", "session_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}
	totals, err := s.store.Totals(ctx, id)
	if err != nil {
		s.logger.Error("failed to get session totals", "session_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get session"})
	}

	resp := map[string]any{
		"session": sess,
		"totals": map[string]int{
			"messages": totals.Messages,
			"tokens":   totals.Tokens,
			"chars":    totals.Chars,
		},
	}
	if rt, ok := s.personas.Get(sess.Persona); ok {
		resp["accepting"] = sess.ResetAt == nil && control.Allowed(rt.Persona().Limits, totals, "")
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSessionMessages returns the newest messages of a session, newest first.
// GET /v1/sessions/:session_id/messages?limit=N
func (s *Server) GetSessionMessages(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("session_id")

	limit := defaultMessageLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = min(n, maxMessageLimit)
	}

	if _, err := s.store.GetSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		s.logger.Error("failed to get session", "session_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list messages"})
	}
	msgs, err := s.store.Recent(ctx, id, limit)
	if err != nil {
		s.logger.Error("failed to list messages", "session_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list messages"})
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}
