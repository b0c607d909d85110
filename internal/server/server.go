// Package server exposes the HTTP API: sessions, chat, search, model
// management, tools, sources, scheduled tasks and a live event stream.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ollahub/ollahub/internal/events"
	"github.com/ollahub/ollahub/internal/mcp"
	"github.com/ollahub/ollahub/internal/ollama"
	"github.com/ollahub/ollahub/internal/orchestrator"
	"github.com/ollahub/ollahub/internal/scheduler"
	"github.com/ollahub/ollahub/internal/sources"
	"github.com/ollahub/ollahub/internal/store"
)

// Deps carries everything the API serves.
type Deps struct {
	Store   *store.Store
	Chat    *orchestrator.ChatService
	Orch    *orchestrator.Orchestrator
	LLM     *ollama.Client
	Tools   *mcp.Supervisor
	Sources *sources.Manager
	Sched   *scheduler.Scheduler
	Bus     *events.Bus
}

// Server wraps the echo instance.
type Server struct {
	e      *echo.Echo
	logger *log.Logger
}

// New builds the router with all API routes registered.
func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	e.Use(metricsMiddleware())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	(&SessionsHandler{Store: deps.Store}).Register(api.Group("/sessions"))
	(&ChatHandler{Chat: deps.Chat}).Register(api)
	(&SearchHandler{Orch: deps.Orch}).Register(api)
	(&ModelsHandler{LLM: deps.LLM, Bus: deps.Bus}).Register(api.Group("/models"))
	(&ToolsHandler{Sup: deps.Tools}).Register(api.Group("/tools"))
	(&SourcesHandler{Sources: deps.Sources}).Register(api.Group("/sources"))
	(&TasksHandler{Sched: deps.Sched}).Register(api.Group("/tasks"))
	(&EventsHandler{Bus: deps.Bus}).Register(api)
	(&SystemHandler{LLM: deps.LLM}).Register(api.Group("/system"))

	return &Server{e: e, logger: logger}
}

// Start listens on addr until the server is shut down.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Echo exposes the router, used by tests.
func (s *Server) Echo() *echo.Echo { return s.e }
