package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/autopr/internal/pipeline"
)

var refreshOutput string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch open issues and record new ones as pending",
	Long: `Fetch the open issues of the configured repository, or Jira project when
jira.project is set, and record every issue not seen before as pending.

Issues already tracked keep their status; their title, body and labels are
updated from the tracker. Only issues carrying all of options.labels are
fetched when labels are configured.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, closeStore, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		return refreshRun(cmd.Context(), orch, refreshOutput)
	},
}

func refreshRun(ctx context.Context, orch *pipeline.Orchestrator, format string) error {
	results, err := orch.Refresh(ctx)
	if err != nil {
		return err
	}
	return ui.Results(results, format)
}

func init() {
	refreshCmd.Flags().StringVarP(&refreshOutput, "output", "o", "table", "Output format: table, json or yaml")
	rootCmd.AddCommand(refreshCmd)
}
