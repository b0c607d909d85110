package main

import (
	"context"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollahub/ollahub/config"
	"github.com/ollahub/ollahub/internal/browser"
	"github.com/ollahub/ollahub/internal/chats"
	"github.com/ollahub/ollahub/internal/embedding"
	"github.com/ollahub/ollahub/internal/events"
	"github.com/ollahub/ollahub/internal/mcp"
	"github.com/ollahub/ollahub/internal/ollama"
	"github.com/ollahub/ollahub/internal/orchestrator"
	"github.com/ollahub/ollahub/internal/scheduler"
	"github.com/ollahub/ollahub/internal/scraper"
	"github.com/ollahub/ollahub/internal/search"
	"github.com/ollahub/ollahub/internal/server"
	"github.com/ollahub/ollahub/internal/sources"
	"github.com/ollahub/ollahub/internal/store"
	"github.com/ollahub/ollahub/internal/sysmon"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, scheduler and system monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func runServe(cfg *config.Config) error {
	logger := log.New(log.Writer(), "[OLLAHUB] ", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if killed, err := browser.ForceKillStray(); err != nil {
		logger.Printf("stray browser cleanup failed: %v", err)
	} else if killed > 0 {
		logger.Printf("killed %d stray browser processes", killed)
	}

	st, err := store.Open(filepath.Join(cfg.General.DataDir, "ollahub.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	chatFiles, err := chats.NewManager(filepath.Join(cfg.General.DataDir, "chats"))
	if err != nil {
		return err
	}
	srcs, err := sources.NewManager(filepath.Join(cfg.General.DataDir, "sources.json"))
	if err != nil {
		return err
	}
	taskStorage, err := scheduler.NewStorage(filepath.Join(cfg.General.DataDir, "tasks.json"))
	if err != nil {
		return err
	}

	bus := events.NewBus()
	llm := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.Timeout, cfg.Ollama.TitleTimeout)
	if err := llm.CheckConnection(ctx); err != nil {
		logger.Printf("ollama not reachable at %s, continuing: %v", cfg.Ollama.BaseURL, err)
	}

	browsers := browser.NewManager()
	defer browsers.Shutdown()
	scr := scraper.New(browsers, cfg.Scraper)
	searcher := search.NewClient(cfg.Search.HTTPTimeout)
	orch := orchestrator.New(searcher, scr, srcs, cfg.Search)

	var embedder *embedding.Embedder
	if cfg.Embedding.Model != "" {
		embedder = embedding.New(llm, cfg.Embedding.Model)
		go ensureEmbeddingModel(ctx, llm, bus, cfg.Embedding.Model, logger)
	}
	chat := orchestrator.NewChatService(orch, llm, st, chatFiles, embedder, bus,
		cfg.Embedding.MaxTokens, float32(cfg.Embedding.MinScore))

	sched := scheduler.New(taskStorage, orch, llm, st, chatFiles, bus,
		cfg.Ollama.DefaultModel, cfg.Scheduler.Interval)
	if cfg.Scheduler.Enabled {
		go sched.Run(ctx)
	}

	sup := mcp.NewSupervisor(cfg.Tools.ConfigFile, cfg.Tools.ListTimeout, cfg.Tools.CallTimeout)
	defer sup.StopAll()

	if cfg.Telemetry.Enabled {
		go sysmon.New(bus, sysmon.DefaultInterval).Run(ctx)
	}

	srv := server.New(server.Deps{
		Store:   st,
		Chat:    chat,
		Orch:    orch,
		LLM:     llm,
		Tools:   sup,
		Sources: srcs,
		Sched:   sched,
		Bus:     bus,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Address) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ensureEmbeddingModel pulls the embedding model on first run so
// semantic pruning works without a manual install. Until the pull
// completes the chat pipeline uses its lexical fallback.
func ensureEmbeddingModel(ctx context.Context, llm *ollama.Client, bus *events.Bus, model string, logger *log.Logger) {
	err := llm.EnsureModel(ctx, model, func(p ollama.PullProgress) error {
		bus.Publish(events.DownloadProgress, map[string]any{
			"model":     model,
			"status":    p.Status,
			"total":     p.Total,
			"completed": p.Completed,
			"percent":   p.Percent(),
		})
		return nil
	})
	if err != nil {
		logger.Printf("embedding model %s unavailable, semantic pruning falls back to lexical scoring: %v", model, err)
	}
}
