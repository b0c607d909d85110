package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ollahub/ollahub/internal/mcp"
)

// ToolsHandler controls the external tool servers.
type ToolsHandler struct {
	Sup *mcp.Supervisor
}

func (h *ToolsHandler) Register(g *echo.Group) {
	g.GET("", h.status)
	g.GET("/config", h.config)
	g.PUT("/config", h.updateConfig)
	g.POST("/:name/start", h.start)
	g.POST("/:name/stop", h.stop)
	g.POST("/:name/restart", h.restart)
	g.GET("/catalog", h.catalog)
	g.GET("/:name/tools", h.list)
	g.POST("/:name/call", h.call)
}

func (h *ToolsHandler) status(c echo.Context) error {
	statuses, err := h.Sup.Status()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if statuses == nil {
		statuses = []mcp.ServerStatus{}
	}
	return c.JSON(http.StatusOK, statuses)
}

func (h *ToolsHandler) config(c echo.Context) error {
	cfg, err := h.Sup.Config()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *ToolsHandler) updateConfig(c echo.Context) error {
	var cfg mcp.Config
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Sup.SaveConfig(cfg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *ToolsHandler) start(c echo.Context) error {
	name := c.Param("name")
	if err := h.Sup.Start(c.Request().Context(), name); err != nil {
		if errors.Is(err, mcp.ErrCommandNotFound) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"name": name, "status": "running"})
}

func (h *ToolsHandler) stop(c echo.Context) error {
	name := c.Param("name")
	h.Sup.Stop(name)
	return c.JSON(http.StatusOK, map[string]string{"name": name, "status": "stopped"})
}

func (h *ToolsHandler) catalog(c echo.Context) error {
	tools := h.Sup.ListAllTools(c.Request().Context())
	if tools == nil {
		tools = []mcp.ServerTool{}
	}
	return c.JSON(http.StatusOK, tools)
}

func (h *ToolsHandler) restart(c echo.Context) error {
	name := c.Param("name")
	h.Sup.Stop(name)
	if err := h.Sup.Start(c.Request().Context(), name); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"name": name, "status": "running"})
}

func (h *ToolsHandler) list(c echo.Context) error {
	tools, err := h.Sup.ListTools(c.Request().Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, mcp.ErrNotRunning) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}
	return c.JSON(http.StatusOK, tools)
}

func (h *ToolsHandler) call(c echo.Context) error {
	var req struct {
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Tool == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool required")
	}
	result, err := h.Sup.CallTool(c.Request().Context(), c.Param("name"), req.Tool, req.Arguments)
	if err != nil {
		if errors.Is(err, mcp.ErrNotRunning) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSONBlob(http.StatusOK, result)
}
