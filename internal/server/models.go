package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ollahub/ollahub/internal/events"
	"github.com/ollahub/ollahub/internal/ollama"
)

// ModelsHandler manages the local model library. Pulls run in the
// background with progress published on the event feed.
type ModelsHandler struct {
	LLM *ollama.Client
	Bus *events.Bus
}

func (h *ModelsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("/pull", h.pull)
	g.DELETE("/:name", h.delete)
}

func (h *ModelsHandler) list(c echo.Context) error {
	models, err := h.LLM.ListModels(c.Request().Context())
	if err != nil {
		if errors.Is(err, ollama.ErrUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if models == nil {
		models = []ollama.ModelInfo{}
	}
	return c.JSON(http.StatusOK, models)
}

func (h *ModelsHandler) pull(c echo.Context) error {
	var req struct {
		Model string `json:"model"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model required")
	}

	go func() {
		err := h.LLM.Pull(context.Background(), req.Model, func(p ollama.PullProgress) error {
			h.Bus.Publish(events.DownloadProgress, map[string]any{
				"model":     req.Model,
				"status":    p.Status,
				"total":     p.Total,
				"completed": p.Completed,
				"percent":   p.Percent(),
			})
			return nil
		})
		payload := map[string]any{"model": req.Model, "status": "success"}
		if err != nil {
			payload["status"] = "error"
			payload["error"] = err.Error()
		}
		h.Bus.Publish(events.DownloadProgress, payload)
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"model": req.Model, "status": "pulling"})
}

func (h *ModelsHandler) delete(c echo.Context) error {
	if err := h.LLM.DeleteModel(c.Request().Context(), c.Param("name")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
