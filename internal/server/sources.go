package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ollahub/ollahub/internal/sources"
)

// SourcesHandler serves the curated source configuration.
type SourcesHandler struct {
	Sources *sources.Manager
}

func (h *SourcesHandler) Register(g *echo.Group) {
	g.GET("", h.get)
	g.PUT("", h.update)
	g.POST("/reset", h.reset)
}

func (h *SourcesHandler) get(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Sources.Get())
}

func (h *SourcesHandler) update(c echo.Context) error {
	var cfg sources.Config
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Sources.Update(cfg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.Sources.Get())
}

func (h *SourcesHandler) reset(c echo.Context) error {
	cfg, err := h.Sources.Reset()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}
