package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// Storage keeps the task list in a JSON file, rewritten atomically on
// every change.
type Storage struct {
	path   string
	mu     sync.Mutex
	tasks  []Task
	logger *log.Logger
}

// NewStorage loads the task file at path, creating the parent
// directory if needed. A missing file means no tasks; a corrupt file
// is logged and treated the same so one bad write does not brick the
// scheduler.
func NewStorage(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating task dir: %w", err)
	}
	s := &Storage{
		path:   path,
		logger: log.New(log.Writer(), "[TASKS] ", log.LstdFlags),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.tasks); err != nil {
		s.logger.Printf("task file %s is corrupt, starting empty: %v", path, err)
		s.tasks = nil
	}
	return s, nil
}

// List returns a copy of all tasks.
func (s *Storage) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Get returns the task with the given id.
func (s *Storage) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// Add validates and stores a new task, assigning id and timestamps.
func (s *Storage) Add(t Task) (Task, error) {
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.LastRun = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	if err := s.persist(); err != nil {
		s.tasks = s.tasks[:len(s.tasks)-1]
		return Task{}, err
	}
	return t, nil
}

// Update replaces an existing task's mutable fields.
func (s *Storage) Update(t Task) (Task, error) {
	if err := t.Validate(); err != nil {
		return Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tasks {
		if existing.ID != t.ID {
			continue
		}
		t.CreatedAt = existing.CreatedAt
		t.LastRun = existing.LastRun
		t.UpdatedAt = time.Now().UTC()
		s.tasks[i] = t
		if err := s.persist(); err != nil {
			s.tasks[i] = existing
			return Task{}, err
		}
		return t, nil
	}
	return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, t.ID)
}

// Delete removes a task by id.
func (s *Storage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tasks {
		if t.ID != id {
			continue
		}
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		return s.persist()
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// markRun records a run time so the next due computation advances.
func (s *Storage) markRun(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID != id {
			continue
		}
		at := at.UTC()
		s.tasks[i].LastRun = &at
		s.tasks[i].UpdatedAt = at
		if err := s.persist(); err != nil {
			s.logger.Printf("recording run of %s: %v", id, err)
		}
		return
	}
}

// due returns the tasks whose schedule has fired by now.
func (s *Storage) due(now time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.isDue(now) {
			out = append(out, t)
		}
	}
	return out
}

// persist writes the task list to disk. Callers hold s.mu.
func (s *Storage) persist() error {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tasks: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing tasks: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing task file: %w", err)
	}
	return nil
}
