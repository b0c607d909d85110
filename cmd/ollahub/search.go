package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ollahub/ollahub/config"
	"github.com/ollahub/ollahub/internal/orchestrator"
	"github.com/ollahub/ollahub/internal/search"
	"github.com/ollahub/ollahub/internal/sources"
)

func newSearchCmd(cfgPath *string) *cobra.Command {
	var limit int
	var smart bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a one-shot web search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			srcs, err := sources.NewManager(filepath.Join(cfg.General.DataDir, "sources.json"))
			if err != nil {
				return err
			}

			searcher := search.NewClient(cfg.Search.HTTPTimeout)
			orch := orchestrator.New(searcher, nil, srcs, cfg.Search)

			query := strings.Join(args, " ")
			var results []search.Result
			if smart {
				results, err = orch.SmartSearch(cmd.Context(), query, limit)
			} else {
				results, err = orch.SearchWeb(cmd.Context(), query, limit)
			}
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no results")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%2d. %s\n    %s\n", i+1, r.Title, r.URL)
				if r.Snippet != "" {
					fmt.Printf("    %s\n", r.Snippet)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (0 = config default)")
	cmd.Flags().BoolVar(&smart, "smart", false, "include curated source categories")
	return cmd
}
