package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "ollahub",
		Short: "Local research assistant backed by Ollama",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newSearchCmd(&cfgPath))
	root.AddCommand(newTasksCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
