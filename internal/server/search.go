package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ollahub/ollahub/internal/orchestrator"
	"github.com/ollahub/ollahub/internal/search"
)

// SearchHandler runs one-shot web searches without a chat session.
type SearchHandler struct {
	Orch *orchestrator.Orchestrator
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.GET("/search", h.search)
}

func (h *SearchHandler) search(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	limit := intParam(c, "limit", 0)

	var results []search.Result
	var err error
	if c.QueryParam("smart") == "true" {
		results, err = h.Orch.SmartSearch(c.Request().Context(), query, limit)
	} else {
		results, err = h.Orch.SearchWeb(c.Request().Context(), query, limit)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if results == nil {
		results = []search.Result{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
}
