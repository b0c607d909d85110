// Package orchestrator ties search, scraping and source configuration
// into research operations the chat and scheduler layers consume.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ollahub/ollahub/config"
	"github.com/ollahub/ollahub/internal/scraper"
	"github.com/ollahub/ollahub/internal/search"
	"github.com/ollahub/ollahub/internal/sources"
)

// Searcher runs a query against one engine. *search.Client satisfies
// it.
type Searcher interface {
	Search(ctx context.Context, engine search.Engine, query string, limit int) ([]search.Result, error)
}

// Orchestrator runs web research: multi-engine search, focused
// source-aware search and page scraping.
type Orchestrator struct {
	searcher Searcher
	scraper  *scraper.Scraper
	srcs     *sources.Manager
	engines  []search.Engine
	cfg      config.SearchConfig
	logger   *log.Logger
}

// New wires an orchestrator. Engine names that fail to parse are
// logged and skipped; at least DuckDuckGo always remains.
func New(searcher Searcher, scr *scraper.Scraper, srcs *sources.Manager, cfg config.SearchConfig) *Orchestrator {
	logger := log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)

	var engines []search.Engine
	for _, name := range cfg.Engines {
		engine, err := search.ParseEngine(name)
		if err != nil {
			logger.Printf("skipping engine: %v", err)
			continue
		}
		engines = append(engines, engine)
	}
	if len(engines) == 0 {
		engines = []search.Engine{search.DuckDuckGo}
	}

	return &Orchestrator{
		searcher: searcher,
		scraper:  scr,
		srcs:     srcs,
		engines:  engines,
		cfg:      cfg,
		logger:   logger,
	}
}

// SearchWeb queries the configured engines in order, falling through
// to the next engine until enough distinct results accumulate, then
// returns them scored and sorted, at most limit.
func (o *Orchestrator) SearchWeb(ctx context.Context, query string, limit int) ([]search.Result, error) {
	if limit <= 0 {
		limit = o.cfg.TotalSourcesLimit
	}

	seen := map[string]struct{}{}
	var results []search.Result
	var lastErr error

	for _, engine := range o.engines {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		engineResults, err := o.searcher.Search(ctx, engine, query, limit)
		if err != nil {
			o.logger.Printf("%s failed: %v", engine, err)
			lastErr = err
			continue
		}
		for _, r := range engineResults {
			if _, ok := seen[r.URL]; ok {
				continue
			}
			seen[r.URL] = struct{}{}
			results = append(results, r)
		}
		if len(results) >= o.cfg.MinResults {
			break
		}
	}
	if len(results) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("all search engines failed: %w", lastErr)
		}
		return nil, nil
	}

	for i := range results {
		results[i].Score = search.RelevanceScore(query, results[i])
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// siteQuery builds a `(site:a OR site:b) query` string capped at
// maxSites sites.
func siteQuery(query string, sites []string, maxSites int) string {
	if maxSites > 0 && len(sites) > maxSites {
		sites = sites[:maxSites]
	}
	clauses := make([]string, len(sites))
	for i, s := range sites {
		clauses[i] = "site:" + s
	}
	return fmt.Sprintf("(%s) %s", strings.Join(clauses, " OR "), query)
}

// SmartSearch combines a general web search with focused searches over
// the enabled source categories and any custom sites, then filters
// blocked domains and deduplicates.
func (o *Orchestrator) SmartSearch(ctx context.Context, query string, totalLimit int) ([]search.Result, error) {
	if totalLimit <= 0 {
		totalLimit = o.cfg.TotalSourcesLimit
	}
	srcCfg := o.srcs.Get()
	categories := srcCfg.EnabledCategories()

	perCategory := totalLimit
	if len(categories) > 0 {
		perCategory = totalLimit / len(categories)
		if perCategory < 1 {
			perCategory = 1
		}
	}

	queries := []string{query}
	for _, cat := range categories {
		queries = append(queries, siteQuery(query, cat.Sites, perCategory))
	}
	if len(srcCfg.CustomSites) > 0 {
		queries = append(queries, siteQuery(query, srcCfg.CustomSites, perCategory))
	}

	var mu sync.Mutex
	combined := make([][]search.Result, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	for i, q := range queries {
		g.Go(func() error {
			results, err := o.searcher.Search(gctx, search.DuckDuckGo, q, totalLimit)
			if err != nil {
				o.logger.Printf("focused search %q failed: %v", q, err)
				return nil
			}
			mu.Lock()
			combined[i] = results
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var out []search.Result
	for _, batch := range combined {
		for _, r := range batch {
			if search.BlockedByDomains(r.URL, srcCfg.BlockedDomains) {
				continue
			}
			if _, ok := seen[r.URL]; ok {
				continue
			}
			seen[r.URL] = struct{}{}
			out = append(out, r)
			if len(out) >= totalLimit {
				return out, nil
			}
		}
	}
	return out, nil
}

// SearchAndScrape runs a smart search and renders the hits, returning
// the pages that produced usable content.
func (o *Orchestrator) SearchAndScrape(ctx context.Context, query string, maxResults int) ([]scraper.Page, error) {
	results, err := o.SmartSearch(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = r.URL
	}
	pages := o.scraper.FetchAll(ctx, urls)
	o.logger.Printf("scraped %d/%d sources for %q", len(pages), len(urls), query)
	return pages, nil
}

// ContextFromPages concatenates scraped pages into one research
// context block.
func ContextFromPages(pages []scraper.Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Markdown
	}
	return strings.Join(parts, "\n\n")
}
