package scraper

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func articleHTML(paragraphs int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Sample Article</title></head><body><article>`)
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d of the sample article body, long enough to carry actual sentence content for extraction and then some more filler words to be safe.</p>", i)
	}
	b.WriteString(`</article></body></html>`)
	return b.String()
}

func TestExtractWrapsAndHeaders(t *testing.T) {
	t.Parallel()

	page, err := extract("https://example.com/post", articleHTML(6))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if page.Title != "Sample Article" {
		t.Fatalf("title = %q", page.Title)
	}
	if !strings.HasPrefix(page.Markdown, "---\nTitle: Sample Article\nSource: https://example.com/post\n---\n\n") {
		t.Fatalf("markdown header missing:\n%s", page.Markdown[:min(len(page.Markdown), 120)])
	}
	for _, line := range strings.Split(page.Content, "\n") {
		if len(line) > 80 {
			t.Fatalf("line longer than 80 columns: %q", line)
		}
	}
}

func TestExtractParagraphFallback(t *testing.T) {
	t.Parallel()

	// No article element and no headings: readability yields little,
	// so the raw paragraphs must be harvested.
	var b strings.Builder
	b.WriteString(`<html><body><div class="chrome">nav nav nav</div>`)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, `<p>Fallback paragraph %d with a reasonable amount of text so that it clears the minimum length filter applied during harvesting of page content.</p>`, i)
	}
	b.WriteString(`</body></html>`)

	page, err := extract("https://example.com/odd", b.String())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(page.Content, "Fallback paragraph 0") || !strings.Contains(page.Content, "Fallback paragraph 4") {
		t.Fatalf("fallback paragraphs missing:\n%s", page.Content)
	}
}

func TestExtractEmptyPageFails(t *testing.T) {
	t.Parallel()

	if _, err := extract("https://example.com/empty", "<html><body></body></html>"); err == nil {
		t.Fatal("expected error for empty page")
	}
}

func TestExtractTitleFallsBackToHeading(t *testing.T) {
	t.Parallel()

	html := `<html><body><h1>Heading Only</h1>` +
		strings.Repeat(`<p>Body paragraph with enough words to satisfy the harvesting length filter and make the extraction succeed without any metadata at all.</p>`, 4) +
		`</body></html>`
	page, err := extract("https://example.com/h1", html)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if page.Title != "Heading Only" {
		t.Fatalf("title = %q", page.Title)
	}
}

func TestIsConnectionClosed(t *testing.T) {
	t.Parallel()

	if !isConnectionClosed(errors.New("rpc error: the underlying connection is closed")) {
		t.Fatal("expected connection-closed match")
	}
	if isConnectionClosed(errors.New("net::ERR_NAME_NOT_RESOLVED")) {
		t.Fatal("dns failure must not be retriable")
	}
	if isConnectionClosed(nil) {
		t.Fatal("nil error must not match")
	}
}
