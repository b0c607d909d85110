// Package sources manages the curated site lists that focus research
// searches, persisted as a JSON file in the data directory.
package sources

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category groups trusted sites under a topic toggle.
type Category struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Sites   []string `json:"base_sites"`
	Enabled bool     `json:"enabled"`
}

// Config is the full source configuration.
type Config struct {
	Categories     []Category `json:"categories"`
	CustomSites    []string   `json:"custom_sites"`
	BlockedDomains []string   `json:"blocked_domains"`
	Version        int        `json:"version"`
	LastUpdated    time.Time  `json:"last_updated"`
}

// Defaults returns the built-in category set, all enabled.
func Defaults() Config {
	return Config{
		Categories: []Category{
			{ID: "academic", Name: "Academic", Enabled: true, Sites: []string{
				"scholar.google.com", "arxiv.org", "pubmed.ncbi.nlm.nih.gov", "ieee.org", "acm.org",
			}},
			{ID: "tech", Name: "Technology", Enabled: true, Sites: []string{
				"github.com", "stackoverflow.com", "dev.to", "medium.com", "reddit.com/r/programming",
			}},
			{ID: "news", Name: "News", Enabled: true, Sites: []string{
				"news.ycombinator.com", "techcrunch.com", "theverge.com", "arstechnica.com",
			}},
			{ID: "finance", Name: "Finance", Enabled: true, Sites: []string{
				"bloomberg.com", "reuters.com", "financialtimes.com", "wsj.com",
			}},
		},
		Version:     1,
		LastUpdated: time.Now().UTC(),
	}
}

// EnabledCategories returns only the categories switched on.
func (c Config) EnabledCategories() []Category {
	var out []Category
	for _, cat := range c.Categories {
		if cat.Enabled && len(cat.Sites) > 0 {
			out = append(out, cat)
		}
	}
	return out
}

// Manager loads and saves the configuration with exclusive access.
type Manager struct {
	path string

	mu  sync.Mutex
	cfg Config
}

// NewManager reads the configuration at path, falling back to defaults
// when the file is missing or unreadable.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading source config: %w", err)
		}
		m.cfg = Defaults()
		return m, nil
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing source config %s: %w", path, err)
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = Defaults().Categories
	}
	m.cfg = cfg
	return m, nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Update replaces the configuration and persists it.
func (m *Manager) Update(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.Version = m.cfg.Version + 1
	cfg.LastUpdated = time.Now().UTC()
	if err := writeAtomic(m.path, cfg); err != nil {
		return err
	}
	m.cfg = cfg
	return nil
}

// Reset restores the defaults and persists them.
func (m *Manager) Reset() (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := Defaults()
	if err := writeAtomic(m.path, cfg); err != nil {
		return Config{}, err
	}
	m.cfg = cfg
	return cfg, nil
}

// writeAtomic persists via a temp file plus rename so a crash cannot
// leave a truncated config behind.
func writeAtomic(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing source config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing source config: %w", err)
	}
	return nil
}
