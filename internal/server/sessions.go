package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ollahub/ollahub/internal/store"
)

// SessionsHandler serves session history and full-text search.
type SessionsHandler struct {
	Store *store.Store
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/messages", h.messages)
	g.GET("/:id/documents", h.documents)
}

func (h *SessionsHandler) list(c echo.Context) error {
	sessions, err := h.Store.ListSessions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (h *SessionsHandler) search(c echo.Context) error {
	matches, err := h.Store.SearchSessions(c.Request().Context(), c.QueryParam("q"), intParam(c, "limit", 0))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if matches == nil {
		matches = []store.SessionMatch{}
	}
	return c.JSON(http.StatusOK, matches)
}

func (h *SessionsHandler) get(c echo.Context) error {
	sess, err := h.Store.GetSession(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *SessionsHandler) delete(c echo.Context) error {
	if err := h.Store.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionsHandler) messages(c echo.Context) error {
	limit := intParam(c, "limit", 50)
	offset := intParam(c, "offset", 0)
	page, err := h.Store.GetMessagesPage(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if page.Messages == nil {
		page.Messages = []store.Message{}
	}
	return c.JSON(http.StatusOK, page)
}

func (h *SessionsHandler) documents(c echo.Context) error {
	docs, err := h.Store.DocumentsForSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func intParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
