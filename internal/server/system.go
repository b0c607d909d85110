package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ollahub/ollahub/internal/browser"
	"github.com/ollahub/ollahub/internal/ollama"
	"github.com/ollahub/ollahub/internal/sysmon"
)

// SystemHandler serves health and system maintenance endpoints.
type SystemHandler struct {
	LLM *ollama.Client
}

func (h *SystemHandler) Register(g *echo.Group) {
	g.GET("/status", h.status)
	g.GET("/stats", h.stats)
	g.POST("/browser/force-kill", h.forceKill)
}

func (h *SystemHandler) status(c echo.Context) error {
	ollamaUp := h.LLM.CheckConnection(c.Request().Context()) == nil
	return c.JSON(http.StatusOK, map[string]any{
		"ollama_connected": ollamaUp,
	})
}

func (h *SystemHandler) stats(c echo.Context) error {
	stats, err := sysmon.Sample(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *SystemHandler) forceKill(c echo.Context) error {
	killed, err := browser.ForceKillStray()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"killed": killed})
}
