package search

import (
	"net/url"
	"strings"
)

// adFragments mark sponsored or tracking links that never lead to
// useful content.
var adFragments = []string{
	"duckduckgo.com/y.js",
	"googleadservices.com",
	"doubleclick.net",
	"googlesyndication.com",
	"aclick",
	"/y.js",
	"advertising.com",
	"adsystem.com",
}

func isAdURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, frag := range adFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// CleanURL normalizes a result link: ad and tracker links become empty,
// DuckDuckGo redirect wrappers are unwrapped, and anything that is not
// plain http(s) is rejected.
func CleanURL(rawURL string) string {
	if rawURL == "" || isAdURL(rawURL) {
		return ""
	}
	if strings.Contains(rawURL, "uddg=") {
		rawURL = extractRedirectTarget(rawURL)
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return ""
	}
	if isAdURL(rawURL) {
		return ""
	}
	return rawURL
}

// extractRedirectTarget decodes the uddg query parameter DuckDuckGo
// wraps organic links with.
func extractRedirectTarget(rawURL string) string {
	idx := strings.Index(rawURL, "uddg=")
	if idx < 0 {
		return rawURL
	}
	encoded := rawURL[idx+len("uddg="):]
	if amp := strings.IndexByte(encoded, '&'); amp >= 0 {
		encoded = encoded[:amp]
	}
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return rawURL
	}
	return decoded
}

// BlockedByDomains reports whether rawURL's host is one of the blocked
// domains or a subdomain of one.
func BlockedByDomains(rawURL string, blocked []string) bool {
	if len(blocked) == 0 {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(parsed.Hostname(), "www."))
	for _, d := range blocked {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
