package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/analyst/internal/tui/watch"
)

func newWatchCmd() *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of a worker's tasks and events",
		Long: `watch connects to a worker's admin API, shows its registered tasks and
streams task lifecycle events. Select a task and press x to kill it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := tea.NewProgram(watch.New(strings.TrimRight(apiURL, "/")))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "http://127.0.0.1:8081", "Admin API base URL")
	return cmd
}
