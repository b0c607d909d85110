package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ollahub/ollahub/internal/events"
)

// EventsHandler bridges the internal event bus to server-sent events.
type EventsHandler struct {
	Bus *events.Bus
}

func (h *EventsHandler) Register(g *echo.Group) {
	g.GET("/events", h.stream)
}

func (h *EventsHandler) stream(c echo.Context) error {
	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	ch, cancel := h.Bus.Subscribe()
	defer cancel()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-ch:
			if !open {
				return nil
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
