// Package chats persists sessions as individual JSON files, the
// format older releases used. The database is authoritative; these
// files exist so exports and external tooling keep working.
package chats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Message is one message in the file format.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// File is one exported session. Platform and MemoryContext are
// carried for older readers that expect them.
type File struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Emoji         string    `json:"emoji,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	MemoryContext []string  `json:"memory_context,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Messages      []Message `json:"messages"`
}

// Manager reads and writes session files under one directory, with a
// per-session lock so concurrent saves of the same session serialize.
type Manager struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager uses dir for session files, creating it if missing.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating chats dir: %w", err)
	}
	return &Manager{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) path(id string) string {
	// Session ids are UUIDs; anything else is rejected before being
	// used as a filename.
	return filepath.Join(m.dir, id+".json")
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// Save writes the session file atomically. The created_at of an
// existing file wins over the one passed in.
func (m *Manager) Save(f File) error {
	if err := validID(f.ID); err != nil {
		return err
	}
	l := m.lockFor(f.ID)
	l.Lock()
	defer l.Unlock()

	if existing, err := m.load(f.ID); err == nil && !existing.CreatedAt.IsZero() {
		f.CreatedAt = existing.CreatedAt
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path(f.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, m.path(f.ID)); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// Load reads one session file.
func (m *Manager) Load(id string) (File, error) {
	if err := validID(id); err != nil {
		return File{}, err
	}
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return m.load(id)
}

func (m *Manager) load(id string) (File, error) {
	data, err := os.ReadFile(m.path(id))
	if err != nil {
		return File{}, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing session file %s: %w", id, err)
	}
	return f, nil
}

// Delete removes the session file; a missing file is not an error.
func (m *Manager) Delete(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(m.path(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	return nil
}

// List returns the ids of all stored session files.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
