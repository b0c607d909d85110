// Package scraper renders pages in a headless browser and extracts
// readable article text from them.
package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/jaytaylor/html2text"
	"github.com/muesli/reflow/wordwrap"

	"github.com/ollahub/ollahub/config"
	"github.com/ollahub/ollahub/internal/browser"
	"github.com/ollahub/ollahub/internal/search"
)

// textWidth is the column the extracted text is wrapped at.
const textWidth = 80

// paragraphFallback thresholds: extraction below minExtractChars falls
// back to collecting raw <p> elements.
const (
	minExtractChars    = 400
	minParagraphChars  = 100
	maxFallbackParas   = 20
	minFallbackParas   = 3
	postSuppressSettle = 100 * time.Millisecond
)

// Page is one successfully scraped document.
type Page struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Markdown string `json:"markdown"`
}

// Scraper fetches pages through a managed headless browser.
type Scraper struct {
	manager *browser.Manager
	cfg     config.ScraperConfig
	logger  *log.Logger
}

// New returns a scraper using the shared browser manager.
func New(manager *browser.Manager, cfg config.ScraperConfig) *Scraper {
	return &Scraper{
		manager: manager,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[SCRAPER] ", log.LstdFlags),
	}
}

// Fetch renders one URL in a fresh tab of b and extracts its text.
// The whole operation is bounded by the configured page timeout.
func (s *Scraper) Fetch(ctx context.Context, b *browser.Browser, pageURL string) (Page, error) {
	deadline := time.Now().Add(s.cfg.PageTimeout)

	tab, cancelTab := b.NewTab()
	defer cancelTab()
	tabTimeout := s.cfg.TabTimeout
	if remaining := time.Until(deadline); remaining < tabTimeout {
		tabTimeout = remaining
	}
	tabCtx, cancel := context.WithTimeout(tab, tabTimeout)
	defer cancel()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-tabCtx.Done():
			}
		}()
	}

	if err := chromedp.Run(tabCtx,
		emulation.SetUserAgentOverride(search.RandomUserAgent()),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return Page{}, fmt.Errorf("loading %s: %w", pageURL, err)
	}

	// Let dynamic pages settle, clamped to the remaining budget.
	settle := s.cfg.SettleDelay
	if remaining := time.Until(deadline); remaining < settle {
		settle = remaining
	}
	if settle > 0 {
		select {
		case <-time.After(settle):
		case <-tabCtx.Done():
			return Page{}, fmt.Errorf("loading %s: %w", pageURL, tabCtx.Err())
		}
	}

	if err := chromedp.Run(tabCtx, chromedp.Evaluate(mediaSuppressJS, nil)); err != nil {
		s.logger.Printf("media suppression failed on %s: %v", pageURL, err)
	}
	select {
	case <-time.After(postSuppressSettle):
	case <-tabCtx.Done():
	}

	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return Page{}, fmt.Errorf("reading %s: %w", pageURL, err)
	}

	return extract(pageURL, html)
}

// extract turns raw page HTML into wrapped plain text with an article
// header, falling back to paragraph harvesting for pages readability
// cannot digest.
func extract(pageURL, html string) (Page, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		parsedURL = &url.URL{}
	}

	var body, title string
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil {
		title = strings.TrimSpace(article.Title)
		if text, err := html2text.FromString(article.Content, html2text.Options{OmitLinks: true}); err == nil {
			body = strings.TrimSpace(text)
		}
	}

	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if len(body) < minExtractChars && docErr == nil {
		if fallback := harvestParagraphs(doc); fallback != "" {
			body = fallback
		}
	}
	if title == "" && docErr == nil {
		title = strings.TrimSpace(doc.Find("title").First().Text())
		if title == "" {
			title = strings.TrimSpace(doc.Find("h1").First().Text())
		}
	}
	if title == "" {
		title = "Untitled page"
	}
	if body == "" {
		return Page{}, fmt.Errorf("no readable content at %s", pageURL)
	}

	wrapped := wordwrap.String(body, textWidth)
	return Page{
		URL:      pageURL,
		Title:    title,
		Content:  wrapped,
		Markdown: fmt.Sprintf("---\nTitle: %s\nSource: %s\n---\n\n%s", title, pageURL, wrapped),
	}, nil
}

// harvestParagraphs collects substantial <p> elements for pages where
// article extraction comes back nearly empty.
func harvestParagraphs(doc *goquery.Document) string {
	var paras []string
	doc.Find("p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if len(text) >= minParagraphChars {
			paras = append(paras, text)
		}
		return len(paras) < maxFallbackParas
	})
	if len(paras) < minFallbackParas {
		return ""
	}
	return strings.Join(paras, "\n\n")
}

// FetchAll renders urls concurrently, bounded by the configured tab
// limit, and returns the pages with enough content to be useful.
// URLs that fail because the browser connection dropped are retried
// once against a fresh browser.
func (s *Scraper) FetchAll(ctx context.Context, urls []string) []Page {
	b, err := s.manager.Get(ctx)
	if err != nil {
		s.logger.Printf("browser unavailable: %v", err)
		return nil
	}

	pages, failed := s.fetchBatch(ctx, b, urls, s.cfg.MaxConcurrentTabs)
	if len(failed) > 0 {
		s.logger.Printf("retrying %d urls with a fresh browser", len(failed))
		fresh, err := s.manager.Replace(ctx)
		if err != nil {
			s.logger.Printf("browser relaunch failed: %v", err)
			return pages
		}
		retryTabs := s.cfg.MaxConcurrentTabs
		if retryTabs > 3 {
			retryTabs = 3
		}
		retried, _ := s.fetchBatch(ctx, fresh, failed, retryTabs)
		pages = append(pages, retried...)
	}
	return pages
}

func (s *Scraper) fetchBatch(ctx context.Context, b *browser.Browser, urls []string, concurrency int) (pages []Page, retriable []string) {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(pageURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			page, err := s.Fetch(ctx, b, pageURL)
			if err != nil {
				mu.Lock()
				if isConnectionClosed(err) {
					retriable = append(retriable, pageURL)
				}
				mu.Unlock()
				s.logger.Printf("fetch %s failed: %v", pageURL, err)
				return
			}
			if len(page.Content) < s.cfg.MinContentChars && len(page.Markdown) < s.cfg.MinContentChars {
				s.logger.Printf("discarding %s: only %d chars extracted", pageURL, len(page.Content))
				return
			}
			mu.Lock()
			pages = append(pages, page)
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	return pages, retriable
}

func isConnectionClosed(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection is closed") ||
		strings.Contains(msg, "websocket: close")
}
