package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/autopr/internal/pipeline"
)

var clearCmd = &cobra.Command{
	Use:   "clear <issue-number>",
	Short: "Forget the processing result of an issue",
	Long: `Remove the tracked result of an issue. The next 'autopr refresh' records the
issue as pending again. Use this to recover an issue left in processing by an
interrupted run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := parseIssueNumber(args[0])
		if err != nil {
			return err
		}

		orch, closeStore, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		return clearRun(cmd.Context(), orch, number)
	},
}

func clearRun(ctx context.Context, orch *pipeline.Orchestrator, number int) error {
	found, err := orch.FindByNumber(ctx, number)
	if err != nil {
		return err
	}
	if err := orch.Clear(ctx, found.Issue.ID); err != nil {
		return err
	}
	ui.Success("Cleared %s", found.Issue.Reference())
	return nil
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
