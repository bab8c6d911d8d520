package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/arman-khosravi/tabletalk/internal/agent"
	"github.com/arman-khosravi/tabletalk/internal/cache"
	"github.com/arman-khosravi/tabletalk/internal/session"
	"github.com/arman-khosravi/tabletalk/internal/store"
	"github.com/arman-khosravi/tabletalk/internal/telemetry"
	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

// SessionsHandler owns the conversation endpoints. Live sessions are held
// by the manager; a restarted server rehydrates from redis, falling back to
// the Postgres turn log.
type SessionsHandler struct {
	Store *store.Store
	Cache *cache.Cache // optional
	Orch  *agent.Orchestrator
	Live  *session.Manager
	Tel   *telemetry.Telemetry // optional
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/messages", h.message)
	g.DELETE("/:id", h.remove)
}

func (h *SessionsHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	sess := session.New("", userID)
	if err := h.Store.CreateSession(c.Request().Context(), sess.ID(), userID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Live.Put(sess); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.mirror(c.Request().Context(), sess)
	if h.Tel != nil {
		h.Tel.SessionsStarted.Inc()
	}
	return c.JSON(http.StatusCreated, SessionCreatedResponse{ID: sess.ID(), Status: sess.Status()})
}

// resolve finds the caller's session: live manager, then redis mirror, then
// the Postgres turn log.
func (h *SessionsHandler) resolve(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	if sess, ok := h.Live.Get(sessionID); ok {
		if sess.UserID() != userID {
			return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return sess, nil
	}

	if h.Cache != nil {
		if sess, err := h.Cache.Load(ctx, sessionID); err == nil {
			return h.adopt(sess, userID)
		}
	}
	sess, err := h.Store.LoadSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.adopt(sess, userID)
}

func (h *SessionsHandler) adopt(sess *session.Session, userID string) (*session.Session, error) {
	if sess.UserID() != userID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	// another request may have adopted it first
	if err := h.Live.Put(sess); err != nil {
		if existing, ok := h.Live.Get(sess.ID()); ok {
			return existing, nil
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return sess, nil
}

func (h *SessionsHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	sess, err := h.resolve(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionResponse{
		ID:        sess.ID(),
		Status:    sess.Status(),
		UpdatedAt: sess.UpdatedAt(),
		Turns:     sess.Turns(),
	})
}

func (h *SessionsHandler) message(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	userID := c.Get("user_id").(string)
	sess, err := h.resolve(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return err
	}
	if sess.Status() != session.StatusActive {
		return echo.NewHTTPError(http.StatusConflict, "session is "+sess.Status())
	}
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	if _, err := h.Live.Acquire(sess.ID(), cancel); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	defer h.Live.Release(sess.ID())

	answer, err := h.Orch.HandleMessage(ctx, sess, req.Content)
	h.mirror(c.Request().Context(), sess)
	if err != nil {
		if errors.Is(err, toolerr.ErrReasoningUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "reasoning backend unavailable, try again")
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return echo.NewHTTPError(http.StatusRequestTimeout, "request aborted")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sess.Status() != session.StatusActive {
		h.drop(sess.ID())
	}
	return c.JSON(http.StatusOK, MessageResponse{
		SessionID: sess.ID(),
		Answer:    answer,
		Status:    sess.Status(),
	})
}

func (h *SessionsHandler) remove(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()
	id := c.Param("id")
	owner, err := h.Store.SessionOwner(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if owner != userID {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	// Abort any in-flight exchange, then close the live session: completed
	// if it rests on an answer, failed otherwise.
	h.Live.Interrupt(id)
	if sess, ok := h.Live.Get(id); ok && sess.Status() == session.StatusActive {
		h.Orch.End(ctx, sess)
	}
	if err := h.Store.DeleteSession(ctx, id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.drop(id)
	if h.Cache != nil {
		_ = h.Cache.Invalidate(ctx, id)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionsHandler) mirror(ctx context.Context, sess *session.Session) {
	if h.Cache == nil {
		return
	}
	_ = h.Cache.Mirror(ctx, sess)
}

func (h *SessionsHandler) drop(sessionID string) {
	h.Live.Remove(sessionID)
	h.Orch.Forget(sessionID)
}
