package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ollahub/ollahub/internal/chats"
	"github.com/ollahub/ollahub/internal/events"
	"github.com/ollahub/ollahub/internal/ollama"
	"github.com/ollahub/ollahub/internal/orchestrator"
	"github.com/ollahub/ollahub/internal/scraper"
	"github.com/ollahub/ollahub/internal/store"
)

const defaultMaxResults = 5

// Scheduler ticks over the stored tasks and executes the ones whose
// cron schedule has fired, persisting each run as a session.
type Scheduler struct {
	storage      *Storage
	orch         *orchestrator.Orchestrator
	llm          *ollama.Client
	store        *store.Store
	chats        *chats.Manager
	bus          *events.Bus
	defaultModel string
	interval     time.Duration
	logger       *log.Logger
}

// New wires a scheduler. chats may be nil when the per-session file
// mirror is not wanted.
func New(storage *Storage, orch *orchestrator.Orchestrator, llm *ollama.Client, st *store.Store, ch *chats.Manager, bus *events.Bus, defaultModel string, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		storage:      storage,
		orch:         orch,
		llm:          llm,
		store:        st,
		chats:        ch,
		bus:          bus,
		defaultModel: defaultModel,
		interval:     interval,
		logger:       log.New(log.Writer(), "[SCHEDULER] ", log.LstdFlags),
	}
}

// Storage exposes the underlying task store for the API layer.
func (s *Scheduler) Storage() *Storage { return s.storage }

// Run blocks, firing due tasks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Printf("running, tick every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Println("stopped")
			return
		case now := <-ticker.C:
			for _, task := range s.storage.due(now) {
				go func(t Task) { _ = s.runTask(ctx, t, false) }(task)
			}
		}
	}
}

// RunNow executes a task immediately regardless of its schedule.
// Manual runs go through even for disabled tasks.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	task, err := s.storage.Get(id)
	if err != nil {
		return err
	}
	return s.runTask(ctx, task, true)
}

func (s *Scheduler) runTask(ctx context.Context, task Task, force bool) error {
	// The task may have been deleted or edited since it was listed.
	current, err := s.storage.Get(task.ID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil
		}
		return err
	}
	if !force && !current.Enabled {
		return nil
	}

	s.logger.Printf("running %q (%s)", current.Label, current.Action.Type)
	// Advance last_run up front so a slow run is not re-dispatched on
	// the next tick.
	s.storage.markRun(current.ID, time.Now())
	err = s.execute(ctx, current)
	if err != nil {
		s.logger.Printf("task %q failed: %v", current.Label, err)
	}

	payload := map[string]any{
		"task_id":    current.ID,
		"task_label": current.Label,
		"ok":         err == nil,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.bus.Publish(events.TaskFinished, payload)
	return err
}

func (s *Scheduler) execute(ctx context.Context, task Task) error {
	switch task.Action.Type {
	case ActionSearchAndSummarize:
		return s.searchAndSummarize(ctx, task)
	case ActionJustPing:
		return s.justPing(ctx, task)
	case ActionCustomPrompt:
		return s.customPrompt(ctx, task)
	default:
		return fmt.Errorf("unknown action type %q", task.Action.Type)
	}
}

func (s *Scheduler) searchAndSummarize(ctx context.Context, task Task) error {
	maxResults := task.Action.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	pages, err := s.orch.SearchAndScrape(ctx, task.Action.Query, maxResults)
	if err != nil {
		return fmt.Errorf("researching %q: %w", task.Action.Query, err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("no sources found for %q", task.Action.Query)
	}

	system := fmt.Sprintf(
		"You are a research assistant producing a scheduled report on %s. Summarize the sources below into a concise briefing, citing each source by title.",
		time.Now().Format("2006-01-02"),
	)
	summary, err := s.llm.Query(ctx, s.model(task), system, sourcesContext(pages)+"\n\nTopic: "+task.Action.Query)
	if err != nil {
		return fmt.Errorf("summarizing: %w", err)
	}

	userMeta, _ := json.Marshal(map[string]any{
		"task_id":       task.ID,
		"task_label":    task.Label,
		"sources_count": len(pages),
	})
	sources := make([]map[string]string, len(pages))
	for i, p := range pages {
		sources[i] = map[string]string{"title": p.Title, "url": p.URL}
	}
	assistantMeta, _ := json.Marshal(map[string]any{"task_id": task.ID, "sources": sources})

	return s.persistRun(ctx, task, "🔎", []store.Message{
		{Role: "user", Content: task.Action.Query, Metadata: userMeta},
		{Role: "assistant", Content: summary, Metadata: assistantMeta},
	})
}

func (s *Scheduler) justPing(ctx context.Context, task Task) error {
	meta, _ := json.Marshal(map[string]any{"task_id": task.ID, "task_label": task.Label})
	return s.persistRun(ctx, task, "🛎️", []store.Message{
		{Role: "assistant", Content: task.Action.Message, Metadata: meta},
	})
}

func (s *Scheduler) customPrompt(ctx context.Context, task Task) error {
	reply, err := s.llm.Query(ctx, s.model(task), "", task.Action.Prompt)
	if err != nil {
		return fmt.Errorf("running prompt: %w", err)
	}
	meta, _ := json.Marshal(map[string]any{"task_id": task.ID, "task_label": task.Label})
	return s.persistRun(ctx, task, "🤖", []store.Message{
		{Role: "user", Content: task.Action.Prompt, Metadata: meta},
		{Role: "assistant", Content: reply, Metadata: meta},
	})
}

// persistRun stores one task execution as its own session.
func (s *Scheduler) persistRun(ctx context.Context, task Task, emoji string, messages []store.Message) error {
	sessionID := uuid.NewString()
	now := time.Now()
	if err := s.store.UpsertSession(ctx, store.Session{
		ID:        sessionID,
		Title:     "[Agendado] " + task.Label,
		Emoji:     emoji,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	for _, m := range messages {
		m.SessionID = sessionID
		m.CreatedAt = time.Now()
		if _, err := s.store.AddMessage(ctx, m); err != nil {
			return fmt.Errorf("persisting message: %w", err)
		}
	}
	s.exportSession(ctx, sessionID)
	return nil
}

func (s *Scheduler) exportSession(ctx context.Context, sessionID string) {
	if s.chats == nil {
		return
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		s.logger.Printf("exporting %s: %v", sessionID, err)
		return
	}
	history, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		s.logger.Printf("exporting %s: %v", sessionID, err)
		return
	}
	file := chats.File{
		ID:        sess.ID,
		Title:     sess.Title,
		Emoji:     sess.Emoji,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
	for _, m := range history {
		file.Messages = append(file.Messages, chats.Message{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}
	if err := s.chats.Save(file); err != nil {
		s.logger.Printf("exporting %s: %v", sessionID, err)
	}
}

func (s *Scheduler) model(task Task) string {
	if task.Action.Model != "" {
		return task.Action.Model
	}
	return s.defaultModel
}

// sourcesContext renders scraped pages as a titled source block.
func sourcesContext(pages []scraper.Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("---\nTítulo: %s\nURL: %s\n---\n\n%s", p.Title, p.URL, p.Markdown)
	}
	return strings.Join(parts, "\n\n")
}
