package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ollahub/ollahub/internal/chats"
	"github.com/ollahub/ollahub/internal/embedding"
	"github.com/ollahub/ollahub/internal/events"
	"github.com/ollahub/ollahub/internal/ollama"
	"github.com/ollahub/ollahub/internal/store"
)

// historyWindow bounds how much prior conversation is replayed to the
// model per turn.
const historyWindow = 20

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	Model       string `json:"model"`
	Message     string `json:"message"`
	UseResearch *bool  `json:"use_research,omitempty"`
	MaxSources  int    `json:"max_sources,omitempty"`
}

// ChatResult summarizes a completed turn.
type ChatResult struct {
	SessionID    string   `json:"session_id"`
	Reply        string   `json:"reply"`
	SourcesCount int      `json:"sources_count"`
	SourceURLs   []string `json:"source_urls,omitempty"`
	Intent       Intent   `json:"intent"`
}

// ChatService runs the full chat turn: session bookkeeping, optional
// research, context pruning, streaming generation and persistence.
type ChatService struct {
	orch     *Orchestrator
	llm      *ollama.Client
	store    *store.Store
	chats    *chats.Manager
	embedder *embedding.Embedder
	bus      *events.Bus

	maxContextTokens int
	minScore         float32
	logger           *log.Logger
}

// NewChatService wires the chat pipeline. embedder may be nil, in
// which case context pruning falls back to lexical scoring.
func NewChatService(orch *Orchestrator, llm *ollama.Client, st *store.Store, ch *chats.Manager, embedder *embedding.Embedder, bus *events.Bus, maxContextTokens int, minScore float32) *ChatService {
	if maxContextTokens <= 0 {
		maxContextTokens = 2048
	}
	return &ChatService{
		orch:             orch,
		llm:              llm,
		store:            st,
		chats:            ch,
		embedder:         embedder,
		bus:              bus,
		maxContextTokens: maxContextTokens,
		minScore:         minScore,
		logger:           log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
}

const researchSystemPrompt = "You are a research assistant. Answer using the provided sources when they are relevant, citing them by title. If the sources do not cover the question, say so and answer from your own knowledge."

// Send runs one chat turn. Tokens stream over the event bus as they
// arrive; the full reply is returned when generation finishes.
func (s *ChatService) Send(ctx context.Context, req ChatRequest) (ChatResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ChatResult{}, fmt.Errorf("empty message")
	}

	sessionID, err := s.ensureSession(ctx, req.SessionID, req.Model, message)
	if err != nil {
		return ChatResult{}, err
	}

	intent := ClassifyIntent(message)
	research := intent.NeedsResearch()
	if req.UseResearch != nil {
		research = *req.UseResearch
	}

	var sourceURLs []string
	var researchContext string
	if research {
		maxSources := req.MaxSources
		if maxSources <= 0 {
			maxSources = s.orch.cfg.TotalSourcesLimit
		}
		pages, err := s.orch.SearchAndScrape(ctx, message, maxSources)
		if err != nil {
			s.logger.Printf("research failed, continuing without sources: %v", err)
		}
		for _, p := range pages {
			sourceURLs = append(sourceURLs, p.URL)
			if _, err := s.store.SaveDocument(ctx, store.Document{
				SessionID: sessionID,
				SourceURL: p.URL,
				Content:   p.Content,
			}); err != nil {
				s.logger.Printf("saving document %s: %v", p.URL, err)
			}
		}
		researchContext = s.pruneContext(ctx, message, ContextFromPages(pages))
	}

	userMeta, _ := json.Marshal(map[string]any{"intent": intent, "sources_count": len(sourceURLs)})
	if _, err := s.store.AddMessage(ctx, store.Message{
		SessionID: sessionID,
		Role:      "user",
		Content:   message,
		Metadata:  userMeta,
		CreatedAt: time.Now(),
	}); err != nil {
		return ChatResult{}, fmt.Errorf("persisting user message: %w", err)
	}

	messages, err := s.buildPrompt(ctx, sessionID, researchContext)
	if err != nil {
		return ChatResult{}, err
	}

	reply, err := s.llm.ChatStream(ctx, req.Model, messages, func(token string) error {
		s.bus.Publish(events.ChatToken, map[string]any{"session_id": sessionID, "content": token, "done": false})
		return nil
	})
	if err != nil {
		s.bus.Publish(events.ChatError, map[string]any{"session_id": sessionID, "error": err.Error()})
		return ChatResult{}, fmt.Errorf("generating reply: %w", err)
	}
	// Empty done-flagged token marks the end of the stream.
	s.bus.Publish(events.ChatToken, map[string]any{"session_id": sessionID, "content": "", "done": true})
	reply = strings.TrimSpace(reply)

	var assistantMeta json.RawMessage
	if len(sourceURLs) > 0 {
		assistantMeta, _ = json.Marshal(map[string]any{"sources": sourceURLs})
	}
	if _, err := s.store.AddMessage(ctx, store.Message{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   reply,
		Metadata:  assistantMeta,
		CreatedAt: time.Now(),
	}); err != nil {
		return ChatResult{}, fmt.Errorf("persisting reply: %w", err)
	}

	s.exportSession(ctx, sessionID)

	return ChatResult{
		SessionID:    sessionID,
		Reply:        reply,
		SourcesCount: len(sourceURLs),
		SourceURLs:   sourceURLs,
		Intent:       intent,
	}, nil
}

// ensureSession returns an existing session id or creates a new
// session titled and tagged from the first message. Creation is
// announced before any token streams so the frontend can show the
// session immediately.
func (s *ChatService) ensureSession(ctx context.Context, sessionID, model, message string) (string, error) {
	if sessionID != "" {
		if _, err := s.store.GetSession(ctx, sessionID); err != nil {
			return "", fmt.Errorf("session %s: %w", sessionID, err)
		}
		return sessionID, nil
	}

	id := uuid.NewString()
	now := time.Now()
	title := s.llm.GenerateTitle(ctx, model, message)
	emoji := ollama.GenerateEmoji(message)
	if err := s.store.UpsertSession(ctx, store.Session{
		ID:        id,
		Title:     title,
		Emoji:     emoji,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	s.bus.Publish(events.ChatCreated, map[string]any{"session_id": id, "title": title, "emoji": emoji})
	return id, nil
}

// pruneContext trims the research context to the token budget, via
// embeddings when available.
func (s *ChatService) pruneContext(ctx context.Context, query, researchContext string) string {
	if researchContext == "" {
		return ""
	}
	if s.embedder != nil {
		pruned, err := s.embedder.PruneContext(ctx, query, researchContext, s.maxContextTokens, s.minScore)
		if err == nil {
			return pruned
		}
		s.logger.Printf("semantic pruning failed, using lexical fallback: %v", err)
	}
	return embedding.PruneContextBM25(query, researchContext, s.maxContextTokens)
}

// buildPrompt assembles system prompt, recent history and the pruned
// research context.
func (s *ChatService) buildPrompt(ctx context.Context, sessionID, researchContext string) ([]ollama.Message, error) {
	page, err := s.store.GetMessagesPage(ctx, sessionID, historyWindow, 0)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	var messages []ollama.Message
	if researchContext != "" {
		messages = append(messages, ollama.Message{
			Role:    "system",
			Content: researchSystemPrompt + "\n\nSources:\n\n" + researchContext,
		})
	}
	for _, m := range page.Messages {
		messages = append(messages, ollama.Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

// exportSession mirrors the session to the per-session JSON file.
func (s *ChatService) exportSession(ctx context.Context, sessionID string) {
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
