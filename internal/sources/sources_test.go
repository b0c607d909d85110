package sources

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsHaveEnabledCategories(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	if len(cfg.EnabledCategories()) != 4 {
		t.Fatalf("expected 4 enabled categories, got %d", len(cfg.EnabledCategories()))
	}
	if cfg.Version != 1 {
		t.Fatalf("version = %d, want 1", cfg.Version)
	}
}

func TestManagerMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	m, err := NewManager(filepath.Join(t.TempDir(), "sources.json"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if len(m.Get().Categories) == 0 {
		t.Fatal("expected default categories")
	}
}

func TestManagerUpdatePersistsAndBumpsVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.json")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	cfg := m.Get()
	cfg.CustomSites = []string{"golang.org"}
	cfg.Categories[0].Enabled = false
	if err := m.Update(cfg); err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := reloaded.Get()
	if got.Version != 2 {
		t.Fatalf("version = %d, want 2", got.Version)
	}
	if len(got.CustomSites) != 1 || got.CustomSites[0] != "golang.org" {
		t.Fatalf("custom sites not persisted: %v", got.CustomSites)
	}
	if got.Categories[0].Enabled {
		t.Fatal("category toggle not persisted")
	}
	if len(got.EnabledCategories()) != 3 {
		t.Fatalf("expected 3 enabled categories, got %d", len(got.EnabledCategories()))
	}
}

func TestManagerRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.json")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	cfg := m.Get()
	cfg.BlockedDomains = []string{"spam.example"}
	if err := m.Update(cfg); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := m.Reset()
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(got.BlockedDomains) != 0 {
		t.Fatal("reset did not clear blocked domains")
	}
}
