package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ollahub/ollahub/internal/scheduler"
)

// TasksHandler manages scheduled tasks.
type TasksHandler struct {
	Sched *scheduler.Scheduler
}

func (h *TasksHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/toggle", h.toggle)
	g.POST("/:id/run", h.run)
}

func (h *TasksHandler) list(c echo.Context) error {
	tasks := h.Sched.Storage().List()
	if tasks == nil {
		tasks = []scheduler.Task{}
	}
	return c.JSON(http.StatusOK, tasks)
}

func (h *TasksHandler) create(c echo.Context) error {
	var task scheduler.Task
	if err := c.Bind(&task); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.Sched.Storage().Add(task)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *TasksHandler) get(c echo.Context) error {
	task, err := h.Sched.Storage().Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, task)
}

func (h *TasksHandler) update(c echo.Context) error {
	var task scheduler.Task
	if err := c.Bind(&task); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	task.ID = c.Param("id")
	updated, err := h.Sched.Storage().Update(task)
	if err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *TasksHandler) delete(c echo.Context) error {
	if err := h.Sched.Storage().Delete(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *TasksHandler) toggle(c echo.Context) error {
	task, err := h.Sched.Storage().Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	task.Enabled = !task.Enabled
	updated, err := h.Sched.Storage().Update(task)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *TasksHandler) run(c echo.Context) error {
	id := c.Param("id")
	if err := h.Sched.RunNow(c.Request().Context(), id); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": "completed"})
}
