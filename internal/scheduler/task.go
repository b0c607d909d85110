// Package scheduler runs cron-driven background tasks: recurring web
// research summaries, health pings and custom prompts.
package scheduler

import (
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
)

// Action kinds.
const (
	ActionSearchAndSummarize = "search_and_summarize"
	ActionJustPing           = "just_ping"
	ActionCustomPrompt       = "custom_prompt"
)

// Action is what a task does when it fires. Type selects the variant;
// only the fields of that variant are populated.
type Action struct {
	Type string `json:"type"`

	// search_and_summarize
	Query      string `json:"query,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`

	// custom_prompt
	Prompt string `json:"prompt,omitempty"`

	// just_ping
	Message string `json:"message,omitempty"`

	// search_and_summarize and custom_prompt
	Model string `json:"model,omitempty"`
}

// Validate checks the action is a known variant with its required
// fields set.
func (a Action) Validate() error {
	switch a.Type {
	case ActionSearchAndSummarize:
		if a.Query == "" {
			return fmt.Errorf("search_and_summarize requires a query")
		}
	case ActionJustPing:
		if a.Message == "" {
			return fmt.Errorf("just_ping requires a message")
		}
	case ActionCustomPrompt:
		if a.Prompt == "" {
			return fmt.Errorf("custom_prompt requires a prompt")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// Task is one scheduled job.
type Task struct {
	ID           string     `json:"id"`
	Label        string     `json:"label"`
	CronSchedule string     `json:"cron_schedule"`
	Action       Action     `json:"action"`
	Enabled      bool       `json:"enabled"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Validate checks the task fields, including that the cron expression
// parses.
func (t Task) Validate() error {
	if t.Label == "" {
		return fmt.Errorf("task needs a label")
	}
	if _, err := cronexpr.Parse(t.CronSchedule); err != nil {
		return fmt.Errorf("cron schedule %q: %w", t.CronSchedule, err)
	}
	return t.Action.Validate()
}

// isDue reports whether the task's schedule has a fire time at or
// before now, counted from the last run (or creation for never-run
// tasks).
func (t Task) isDue(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	expr, err := cronexpr.Parse(t.CronSchedule)
	if err != nil {
		return false
	}
	last := t.CreatedAt
	if t.LastRun != nil {
		last = *t.LastRun
	}
	next := expr.Next(last)
	return !next.IsZero() && !next.After(now)
}
