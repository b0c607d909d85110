package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ollahub/ollahub/config"
	"github.com/ollahub/ollahub/internal/scheduler"
)

func openTaskStorage(cfgPath *string) (*scheduler.Storage, error) {
	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		return nil, err
	}
	return scheduler.NewStorage(filepath.Join(cfg.General.DataDir, "tasks.json"))
}

func newTasksCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage scheduled tasks",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := openTaskStorage(cfgPath)
			if err != nil {
				return err
			}
			tasks := storage.List()
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			for _, t := range tasks {
				state := "enabled"
				if !t.Enabled {
					state = "disabled"
				}
				lastRun := "never"
				if t.LastRun != nil {
					lastRun = t.LastRun.Format("2006-01-02 15:04")
				}
				fmt.Printf("%s  %-24s %-14s %s  %s  last run: %s\n",
					t.ID, t.Label, t.Action.Type, t.CronSchedule, state, lastRun)
			}
			return nil
		},
	}

	var (
		label      string
		cron       string
		actionType string
		query      string
		message    string
		prompt     string
		model      string
		maxResults int
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled task",
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := openTaskStorage(cfgPath)
			if err != nil {
				return err
			}
			task, err := storage.Add(scheduler.Task{
				Label:        label,
				CronSchedule: cron,
				Enabled:      true,
				Action: scheduler.Action{
					Type:       actionType,
					Query:      query,
					Message:    message,
					Prompt:     prompt,
					Model:      model,
					MaxResults: maxResults,
				},
			})
			if err != nil {
				return err
			}
			fmt.Printf("created %s\n", task.ID)
			return nil
		},
	}
	add.Flags().StringVar(&label, "label", "", "task label")
	add.Flags().StringVar(&cron, "cron", "", "cron schedule, e.g. \"0 8 * * *\"")
	add.Flags().StringVar(&actionType, "type", scheduler.ActionSearchAndSummarize, "action type")
	add.Flags().StringVar(&query, "query", "", "search query (search_and_summarize)")
	add.Flags().StringVar(&message, "message", "", "ping message (just_ping)")
	add.Flags().StringVar(&prompt, "prompt", "", "prompt text (custom_prompt)")
	add.Flags().StringVar(&model, "model", "", "model override")
	add.Flags().IntVar(&maxResults, "max-results", 0, "max sources (search_and_summarize)")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := openTaskStorage(cfgPath)
			if err != nil {
				return err
			}
			if err := storage.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("removed")
			return nil
		},
	}

	cmd.AddCommand(list, add, rm)
	return cmd
}
