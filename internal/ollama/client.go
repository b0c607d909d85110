// Package ollama is a client for a local Ollama runtime: streaming
// chat, model management and embeddings over its HTTP API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable indicates the runtime is not reachable.
var ErrUnavailable = errors.New("ollama: runtime unavailable")

// maxLineSize bounds a single NDJSON line from the streaming APIs.
const maxLineSize = 1024 * 1024

// Client talks to one Ollama instance.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	titleTimeout time.Duration
	logger       *log.Logger
}

// New returns a client for the runtime at baseURL. timeout bounds a
// whole request including streaming; titleTimeout bounds title
// generation only.
func New(baseURL string, timeout, titleTimeout time.Duration) *Client {
	if titleTimeout <= 0 {
		titleTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		titleTimeout: titleTimeout,
		logger:       log.New(log.Writer(), "[OLLAMA] ", log.LstdFlags),
	}
}

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelInfo describes an installed model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// CheckConnection verifies the runtime answers on /api/tags.
func (c *Client) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// ListModels returns the installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing models: status %d", resp.StatusCode)
	}

	var tags struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("parsing model list: %w", err)
	}
	return tags.Models, nil
}

// HasModel reports whether name (with or without a tag suffix) is
// installed.
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.Name == name || strings.SplitN(m.Name, ":", 2)[0] == name {
			return true, nil
		}
	}
	return false, nil
}

// ChatStream sends messages to model and calls onToken for every
// content fragment as it arrives. Returns the full accumulated reply.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, onToken func(token string) error) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat with %s: status %d: %s", model, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done  bool   `json:"done"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.Printf("skipping malformed stream line: %v", err)
			continue
		}
		if chunk.Error != "" {
			return full.String(), fmt.Errorf("chat with %s: %s", model, chunk.Error)
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if onToken != nil {
				if err := onToken(chunk.Message.Content); err != nil {
					return full.String(), err
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("reading chat stream: %w", err)
	}
	return full.String(), nil
}

// Chat is the non-streaming variant of ChatStream.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat with %s: status %d: %s", model, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parsing chat response: %w", err)
	}
	return out.Message.Content, nil
}

// Query runs a one-shot prompt with an optional system message and
// returns the trimmed reply. An empty reply is an error.
func (c *Client) Query(ctx context.Context, model, system, prompt string) (string, error) {
	if err := c.CheckConnection(ctx); err != nil {
		return "", err
	}
	var messages []Message
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	reply, err := c.ChatStream(ctx, model, messages, nil)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("model %s returned an empty response", model)
	}
	return reply, nil
}

const titleSystemPrompt = "You generate conversation titles. Reply with a concise 3-5 word title for the user's message. No quotes, no punctuation, title only."

// GenerateTitle asks model for a short session title, falling back to
// the first words of text when the model is slow or rambles.
func (c *Client) GenerateTitle(ctx context.Context, model, text string) string {
	ctx, cancel := context.WithTimeout(ctx, c.titleTimeout)
	defer cancel()

	var title strings.Builder
	_, err := c.ChatStream(ctx, model, []Message{
		{Role: "system", Content: titleSystemPrompt},
		{Role: "user", Content: text},
	}, func(token string) error {
		title.WriteString(token)
		// Titles are a few words; no point streaming further.
		if title.Len() > 30 {
			return context.Canceled
		}
		return nil
	})
	got := strings.TrimSpace(strings.Trim(strings.TrimSpace(title.String()), `"`))
	if err != nil && got == "" {
		c.logger.Printf("title generation failed: %v", err)
	}
	if got == "" || len(got) > 50 {
		fields := strings.Fields(text)
		if len(fields) > 5 {
			fields = fields[:5]
		}
		got = strings.Join(fields, " ")
	}
	return got
}

// GenerateEmoji picks a session emoji from keywords in text.
func GenerateEmoji(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "código", "codigo", "program", "code", "bug", "debug"):
		return "💻"
	case containsAny(lower, "pergunta", "question", "como", "how", "what", "why"):
		return "❓"
	case containsAny(lower, "explica", "explain", "aprend", "learn", "study"):
		return "📚"
	case containsAny(lower, "ajuda", "help", "socorro"):
		return "🆘"
	default:
		return "💬"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// PullProgress is one status line from a model download.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Percent reports download completion, or 0 while the total is still
// unknown.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// Pull downloads model, reporting progress per status line. onProgress
// may be nil.
func (c *Client) Pull(ctx context.Context, model string, onProgress func(PullProgress) error) error {
	body, err := json.Marshal(map[string]any{"name": model, "stream": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pulling %s: status %d: %s", model, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var progress struct {
			PullProgress
			Error string `json:"error"`
		}
		if err := json.Unmarshal(line, &progress); err != nil {
			continue
		}
		if progress.Error != "" {
			return fmt.Errorf("pulling %s: %s", model, progress.Error)
		}
		if onProgress != nil {
			if err := onProgress(progress.PullProgress); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// EnsureModel pulls model when it is not installed yet. onProgress may
// be nil.
func (c *Client) EnsureModel(ctx context.Context, model string, onProgress func(PullProgress) error) error {
	ok, err := c.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	c.logger.Printf("model %s not installed, pulling", model)
	return c.Pull(ctx, model, onProgress)
}

// DeleteModel removes an installed model.
func (c *Client) DeleteModel(ctx context.Context, model string) error {
	body, err := json.Marshal(map[string]any{"model": model})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("deleting %s: status %d: %s", model, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Embed returns one embedding vector per input text. It implements the
// backend contract of the embedding package.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{"model": model, "input": texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding with %s: status %d: %s", model, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parsing embeddings: %w", err)
	}
	return out.Embeddings, nil
}
