// Package search queries public web search engines over plain HTTP and
// parses their result pages.
package search

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Engine identifies one supported search engine.
type Engine string

const (
	Google     Engine = "google"
	Bing       Engine = "bing"
	Yahoo      Engine = "yahoo"
	DuckDuckGo Engine = "duckduckgo"
	Startpage  Engine = "startpage"
)

// ParseEngine maps a config name to an Engine.
func ParseEngine(name string) (Engine, error) {
	switch Engine(strings.ToLower(strings.TrimSpace(name))) {
	case Google:
		return Google, nil
	case Bing:
		return Bing, nil
	case Yahoo:
		return Yahoo, nil
	case DuckDuckGo:
		return DuckDuckGo, nil
	case Startpage:
		return Startpage, nil
	}
	return "", fmt.Errorf("unknown search engine %q", name)
}

// Result is one parsed search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Engine  Engine  `json:"engine"`
	Score   float64 `json:"score"`
}

// engineSpec holds the per-engine URL template and CSS selectors.
type engineSpec struct {
	buildURL  func(query string, limit int) string
	container []string
	title     []string
	link      []string
	snippet   []string
}

func clampLimit(limit, max int) int {
	if limit > max {
		return max
	}
	return limit
}

var specs = map[Engine]engineSpec{
	Google: {
		buildURL: func(q string, limit int) string {
			return fmt.Sprintf("https://www.google.com/search?q=%s&num=%d", url.QueryEscape(q), clampLimit(limit, 100))
		},
		container: []string{"div.g", "div[data-ved]", ".tF2Cxc"},
		title:     []string{"h3", ".LC20lb", ".DKV0Md"},
		link:      []string{"a[href]"},
		snippet:   []string{".VwiC3b", ".s", ".st"},
	},
	Bing: {
		buildURL: func(q string, limit int) string {
			return fmt.Sprintf("https://www.bing.com/search?q=%s&count=%d", url.QueryEscape(q), clampLimit(limit, 50))
		},
		container: []string{".b_algo"},
		title:     []string{"h2 a"},
		link:      []string{"h2 a"},
		snippet:   []string{".b_caption p"},
	},
	Yahoo: {
		buildURL: func(q string, limit int) string {
			return fmt.Sprintf("https://search.yahoo.com/search?p=%s&n=%d", url.QueryEscape(q), clampLimit(limit, 40))
		},
		container: []string{".dd.algo", ".Sr"},
		title:     []string{"h3 a"},
		link:      []string{"h3 a"},
		snippet:   []string{".ac-algo .ac-text", ".compText"},
	},
	DuckDuckGo: {
		buildURL: func(q string, _ int) string {
			return fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(q))
		},
		container: []string{".result", ".web-result", ".result__body"},
		title:     []string{".result__a"},
		link:      []string{".result__a"},
		snippet:   []string{".result__snippet"},
	},
	Startpage: {
		buildURL: func(q string, _ int) string {
			return fmt.Sprintf("https://www.startpage.com/sp/search?query=%s&page=1", url.QueryEscape(q))
		},
		container: []string{".w-gl__result"},
		title:     []string{".w-gl__result-title a"},
		link:      []string{".w-gl__result-title a"},
		snippet:   []string{".w-gl__result-snippet"},
	},
}

// Desktop user agents rotated per request so repeated queries do not
// present a single fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// RandomUserAgent picks one of the rotated browser user agents.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// Client fetches and parses engine result pages.
type Client struct {
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient returns a search client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

// Search runs query on one engine and returns cleaned results, at most
// limit of them. DuckDuckGo paginates; the other engines return a
// single page.
func (c *Client) Search(ctx context.Context, engine Engine, query string, limit int) ([]Result, error) {
	if engine == DuckDuckGo {
		return c.searchDuckDuckGo(ctx, query, limit)
	}
	spec, ok := specs[engine]
	if !ok {
		return nil, fmt.Errorf("unknown search engine %q", engine)
	}
	doc, err := c.fetch(ctx, spec.buildURL(query, limit))
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", engine, err)
	}
	results := parseResults(doc, spec, engine)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchDuckDuckGo walks the html endpoint's pagination until limit
// results are collected or five pages are exhausted.
func (c *Client) searchDuckDuckGo(ctx context.Context, query string, limit int) ([]Result, error) {
	spec := specs[DuckDuckGo]
	seen := map[string]struct{}{}
	var results []Result

	offset := 0
	for page := 0; page < 5 && len(results) < limit; page++ {
		pageURL := spec.buildURL(query, limit)
		if offset > 0 {
			pageURL += fmt.Sprintf("&s=%d", offset)
		}
		doc, err := c.fetch(ctx, pageURL)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("searching duckduckgo: %w", err)
			}
			c.logger.Printf("duckduckgo page %d failed, stopping: %v", page, err)
			break
		}
		pageResults := parseResults(doc, spec, DuckDuckGo)
		if len(pageResults) == 0 {
			break
		}
		for _, r := range pageResults {
			if _, ok := seen[r.URL]; ok {
				continue
			}
			seen[r.URL] = struct{}{}
			results = append(results, r)
		}
		offset += 50
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", RandomUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

func parseResults(doc *goquery.Document, spec engineSpec, engine Engine) []Result {
	var results []Result
	seen := map[string]struct{}{}

	for _, containerSel := range spec.container {
		doc.Find(containerSel).Each(func(_ int, node *goquery.Selection) {
			title := firstText(node, spec.title)
			href := firstHref(node, spec.link)
			cleaned := CleanURL(href)
			if cleaned == "" {
				return
			}
			if _, ok := seen[cleaned]; ok {
				return
			}
			if title == "" {
				title = cleaned
			}
			seen[cleaned] = struct{}{}
			results = append(results, Result{
				Title:   title,
				URL:     cleaned,
				Snippet: normalizeSpace(firstText(node, spec.snippet)),
				Engine:  engine,
			})
		})
	}
	return results
}

func firstText(node *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if found := node.Find(sel).First(); found.Length() > 0 {
			if text := strings.TrimSpace(found.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func firstHref(node *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if href, ok := node.Find(sel).First().Attr("href"); ok && href != "" {
			return href
		}
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RelevanceScore rates how well a result matches the query words,
// weighing title hits extra and rewarding a non-empty snippet. Scores
// are clamped to [0, 1]; an unusable query scores 0.5.
func RelevanceScore(query string, r Result) float64 {
	var words []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(f)) > 2 {
			words = append(words, f)
		}
	}
	if len(words) == 0 {
		return 0.5
	}

	title := strings.ToLower(r.Title)
	combined := title + " " + strings.ToLower(r.Snippet)
	var matches, titleMatches int
	for _, w := range words {
		if strings.Contains(combined, w) {
			matches++
		}
		if strings.Contains(title, w) {
			titleMatches++
		}
	}

	score := float64(matches)/float64(len(words)) + 0.3*float64(titleMatches)/float64(len(words))
	if r.Snippet != "" {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}
