package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ollahub/ollahub/config"
	"github.com/ollahub/ollahub/internal/search"
	"github.com/ollahub/ollahub/internal/sources"
)

// fakeSearcher serves canned results per engine and records calls.
type fakeSearcher struct {
	mu       sync.Mutex
	byEngine map[search.Engine][]search.Result
	byQuery  map[string][]search.Result
	errs     map[search.Engine]error
	calls    []search.Engine
}

func (f *fakeSearcher) Search(_ context.Context, engine search.Engine, query string, _ int) ([]search.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, engine)
	f.mu.Unlock()
	if err, ok := f.errs[engine]; ok {
		return nil, err
	}
	if rs, ok := f.byQuery[query]; ok {
		return rs, nil
	}
	return f.byEngine[engine], nil
}

func newTestSources(t *testing.T) *sources.Manager {
	t.Helper()
	m, err := sources.NewManager(filepath.Join(t.TempDir(), "sources.json"))
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	return m
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		Engines:           []string{"duckduckgo", "bing"},
		MinResults:        3,
		TotalSourcesLimit: 10,
	}
}

func TestSearchWebStopsWhenEnoughResults(t *testing.T) {
	t.Parallel()

	f := &fakeSearcher{byEngine: map[search.Engine][]search.Result{
		search.DuckDuckGo: {
			{Title: "a", URL: "https://a.example"},
			{Title: "b", URL: "https://b.example"},
			{Title: "c", URL: "https://c.example"},
		},
	}}
	o := New(f, nil, newTestSources(t), testSearchConfig())

	got, err := o.SearchWeb(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results", len(got))
	}
	if len(f.calls) != 1 {
		t.Fatalf("expected early stop after first engine, called %v", f.calls)
	}
}

func TestSearchWebFallsThroughOnFailure(t *testing.T) {
	t.Parallel()

	f := &fakeSearcher{
		errs: map[search.Engine]error{search.DuckDuckGo: errors.New("blocked")},
		byEngine: map[search.Engine][]search.Result{
			search.Bing: {{Title: "hit", URL: "https://hit.example"}},
		},
	}
	o := New(f, nil, newTestSources(t), testSearchConfig())

	got, err := o.SearchWeb(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://hit.example" {
		t.Fatalf("unexpected results: %+v", got)
	}
	if len(f.calls) != 2 {
		t.Fatalf("expected both engines tried, called %v", f.calls)
	}
}

func TestSearchWebAllEnginesFail(t *testing.T) {
	t.Parallel()

	f := &fakeSearcher{errs: map[search.Engine]error{
		search.DuckDuckGo: errors.New("blocked"),
		search.Bing:       errors.New("blocked too"),
	}}
	o := New(f, nil, newTestSources(t), testSearchConfig())

	if _, err := o.SearchWeb(context.Background(), "query", 10); err == nil {
		t.Fatal("expected error when every engine fails")
	}
}

func TestSearchWebDeduplicatesAndScores(t *testing.T) {
	t.Parallel()

	f := &fakeSearcher{byEngine: map[search.Engine][]search.Result{
		search.DuckDuckGo: {
			{Title: "irrelevant page", URL: "https://x.example"},
			{Title: "rust tutorial", URL: "https://rust.example", Snippet: "learn rust"},
		},
		search.Bing: {
			{Title: "rust tutorial", URL: "https://rust.example"},
		},
	}}
	cfg := testSearchConfig()
	cfg.MinResults = 5
	o := New(f, nil, newTestSources(t), cfg)

	got, err := o.SearchWeb(context.Background(), "rust tutorial", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("dedup failed: %+v", got)
	}
	if got[0].URL != "https://rust.example" {
		t.Fatalf("best result should sort first: %+v", got)
	}
}

func TestSmartSearchFiltersBlockedDomains(t *testing.T) {
	t.Parallel()

	srcs := newTestSources(t)
	cfg := srcs.Get()
	cfg.BlockedDomains = []string{"spam.example"}
	if err := srcs.Update(cfg); err != nil {
		t.Fatalf("update sources: %v", err)
	}

	f := &fakeSearcher{
		byEngine: map[search.Engine][]search.Result{},
		byQuery: map[string][]search.Result{
			"query": {
				{Title: "ok", URL: "https://fine.example/a"},
				{Title: "spam", URL: "https://spam.example/b"},
				{Title: "dup", URL: "https://fine.example/a"},
			},
		},
	}
	o := New(f, nil, srcs, testSearchConfig())

	got, err := o.SmartSearch(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("smart search: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://fine.example/a" {
		t.Fatalf("unexpected results: %+v", got)
	}
}

func TestSiteQuery(t *testing.T) {
	t.Parallel()

	got := siteQuery("generics", []string{"go.dev", "github.com", "reddit.com"}, 2)
	want := "(site:go.dev OR site:github.com) generics"
	if got != want {
		t.Fatalf("siteQuery = %q, want %q", got, want)
	}
}

func TestExpandQuery(t *testing.T) {
	t.Parallel()

	got := ExpandQuery("research about the climate")
	if len(got) < 3 {
		t.Fatalf("expected original, stripped and synonym variants, got %v", got)
	}
	has := func(want string) bool {
		for _, v := range got {
			if v == want {
				return true
			}
		}
		return false
	}
	if !has("research about the climate") {
		t.Fatalf("original query missing: %v", got)
	}
	if !has("research climate") {
		t.Fatalf("stopword-stripped variant missing: %v", got)
	}
	if !has("study about the climate") {
		t.Fatalf("synonym variant missing: %v", got)
	}

	if vs := ExpandQuery("   "); vs != nil {
		t.Fatalf("blank query should expand to nothing, got %v", vs)
	}
}

func TestClassifyIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want Intent
	}{
		{"what is the capital of France?", IntentFactual},
		{"olá, tudo bem?", IntentConversational},
		{"why does this function throw a null pointer exception", IntentTechnical},
		{"should i switch to linux, what do you think", IntentOpinion},
		{"calculate 15 * 37 for me", IntentCalculation},
		{"zzz", IntentUnknown},
		{"", IntentUnknown},
	}
	for _, tc := range tests {
		if got := ClassifyIntent(tc.text); got != tc.want {
			t.Errorf("ClassifyIntent(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestIntentNeedsResearch(t *testing.T) {
	t.Parallel()

	if !IntentFactual.NeedsResearch() || !IntentTechnical.NeedsResearch() {
		t.Fatal("factual and technical intents should trigger research")
	}
	if IntentConversational.NeedsResearch() || IntentCalculation.NeedsResearch() {
		t.Fatal("conversational and calculation intents should not trigger research")
	}
}
