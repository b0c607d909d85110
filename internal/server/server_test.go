package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ollahub/ollahub/config"
	"github.com/ollahub/ollahub/internal/events"
	"github.com/ollahub/ollahub/internal/ollama"
	"github.com/ollahub/ollahub/internal/orchestrator"
	"github.com/ollahub/ollahub/internal/scheduler"
	"github.com/ollahub/ollahub/internal/search"
	"github.com/ollahub/ollahub/internal/sources"
	"github.com/ollahub/ollahub/internal/store"
)

type stubSearcher struct {
	results []search.Result
}

func (s *stubSearcher) Search(context.Context, search.Engine, string, int) ([]search.Result, error) {
	return s.results, nil
}

func newTestServer(t *testing.T) (*Server, *store.Store, *events.Bus) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "ollahub.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srcs, err := sources.NewManager(filepath.Join(dir, "sources.json"))
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	storage, err := scheduler.NewStorage(filepath.Join(dir, "tasks.json"))
	if err != nil {
		t.Fatalf("task storage: %v", err)
	}

	bus := events.NewBus()
	searcher := &stubSearcher{results: []search.Result{
		{Title: "hit", URL: "https://hit.example", Snippet: "snippet"},
	}}
	orch := orchestrator.New(searcher, nil, srcs, config.SearchConfig{
		Engines:           []string{"duckduckgo"},
		MinResults:        1,
		TotalSourcesLimit: 10,
	})
	sched := scheduler.New(storage, orch, nil, st, nil, bus, "llama3.2", time.Second)

	srv := New(Deps{
		Store:   st,
		Orch:    orch,
		Sources: srcs,
		Sched:   sched,
		Bus:     bus,
	})
	return srv, st, bus
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestSessionsEndpoints(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer(t)
	ctx := context.Background()
	now := time.Now()
	if err := st.UpsertSession(ctx, store.Session{ID: "s1", Title: "Primeira", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if _, err := st.AddMessage(ctx, store.Message{SessionID: "s1", Role: "user", Content: "oi", CreatedAt: now}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	var sessions []store.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/sessions/s1/messages?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("messages: %d %s", rec.Code, rec.Body.String())
	}
	var page store.MessagePage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 || len(page.Messages) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}

	if rec = doJSON(t, srv, http.MethodGet, "/api/sessions/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing session: %d", rec.Code)
	}

	if rec = doJSON(t, srv, http.MethodDelete, "/api/sessions/s1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if rec = doJSON(t, srv, http.MethodGet, "/api/sessions/s1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/search?q=golang", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Query   string          `json:"query"`
		Results []search.Result `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Query != "golang" || len(body.Results) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}

	if rec = doJSON(t, srv, http.MethodGet, "/api/search", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing q: %d", rec.Code)
	}
}

func TestTasksCRUD(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	body := `{"label":"ping","cron_schedule":"* * * * *","enabled":true,"action":{"type":"just_ping","message":"oi"}}`
	rec := doJSON(t, srv, http.MethodPost, "/api/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created scheduler.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("task id missing")
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/tasks", "")
	var tasks []scheduler.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}

	update := `{"label":"renamed","cron_schedule":"* * * * *","enabled":false,"action":{"type":"just_ping","message":"oi"}}`
	rec = doJSON(t, srv, http.MethodPut, "/api/tasks/"+created.ID, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	var updated scheduler.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if updated.Label != "renamed" || updated.Enabled {
		t.Fatalf("update lost fields: %+v", updated)
	}

	if rec = doJSON(t, srv, http.MethodDelete, "/api/tasks/"+created.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec = doJSON(t, srv, http.MethodGet, "/api/tasks/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}

	bad := `{"label":"broken","cron_schedule":"nope","action":{"type":"just_ping","message":"oi"}}`
	if rec = doJSON(t, srv, http.MethodPost, "/api/tasks", bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid cron accepted: %d", rec.Code)
	}
}

func TestSourcesEndpoints(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/sources", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	var cfg sources.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.Categories) == 0 {
		t.Fatal("default categories missing")
	}

	cfg.BlockedDomains = []string{"spam.example"}
	payload, _ := json.Marshal(cfg)
	rec = doJSON(t, srv, http.MethodPut, "/api/sources", string(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	var after sources.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode after: %v", err)
	}
	if len(after.BlockedDomains) != 1 || after.Version != cfg.Version+1 {
		t.Fatalf("update not applied: %+v", after)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/sources/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: %d", rec.Code)
	}
	var resetCfg sources.Config
	if err := json.Unmarshal(rec.Body.Bytes(), &resetCfg); err != nil {
		t.Fatalf("decode reset: %v", err)
	}
	if len(resetCfg.BlockedDomains) != 0 {
		t.Fatalf("reset kept blocked domains: %+v", resetCfg)
	}
}

func TestModelPullPublishesPercent(t *testing.T) {
	t.Parallel()

	ollamaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"status":"downloading","total":200,"completed":50}`+"\n")
		fmt.Fprint(w, `{"status":"success"}`+"\n")
	}))
	t.Cleanup(ollamaSrv.Close)

	bus := events.NewBus()
	llm := ollama.New(ollamaSrv.URL, 5*time.Second, time.Second)
	srv := New(Deps{LLM: llm, Bus: bus})

	eventCh, cancel := bus.Subscribe()
	defer cancel()

	rec := doJSON(t, srv, http.MethodPost, "/api/models/pull", `{"model":"all-minilm"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pull: %d %s", rec.Code, rec.Body.String())
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-eventCh:
			if ev.Name != events.DownloadProgress {
				continue
			}
			payload := ev.Payload.(map[string]any)
			if payload["status"] != "downloading" {
				continue
			}
			if payload["percent"] != 25.0 {
				t.Fatalf("percent = %v, want 25", payload["percent"])
			}
			return
		case <-deadline:
			t.Fatal("no downloading progress event")
		}
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	srv, _, bus := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.Echo().ServeHTTP(rec, req)
		close(done)
	}()

	// Give the handler time to subscribe before publishing.
	time.Sleep(100 * time.Millisecond)
	bus.Publish(events.ChatToken, map[string]any{"content": "olá", "done": false})
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: chat-token") || !strings.Contains(body, "olá") {
		t.Fatalf("event not streamed: %q", body)
	}
}
