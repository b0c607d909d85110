package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ollahub/ollahub/internal/orchestrator"
)

// ChatHandler runs chat turns. Tokens stream over the event feed; the
// POST returns once the full reply is generated.
type ChatHandler struct {
	Chat *orchestrator.ChatService
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.send)
}

func (h *ChatHandler) send(c echo.Context) error {
	var req orchestrator.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}
	if req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model required")
	}

	res, err := h.Chat.Send(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
