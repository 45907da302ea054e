package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/autopr/internal/pipeline"
	"github.com/danielolaszy/autopr/pkg/models"
)

var (
	processAll         bool
	processRetryFailed bool
)

var processCmd = &cobra.Command{
	Use:   "process [issue-number]",
	Short: "Generate a fix for an issue and open a pull request",
	Long: `Generate a fix for one tracked issue and open a pull request with it.

The issue must have been recorded by 'autopr refresh'. With --all every
pending issue is processed, and failed ones too with --retry-failed, running
at most options.concurrency issues at a time.

Examples:
  autopr process 42
  autopr process --all
  autopr process --all --retry-failed`,
	Args: func(cmd *cobra.Command, args []string) error {
		if processAll {
			return cobra.NoArgs(cmd, args)
		}
		if processRetryFailed {
			return errors.New("--retry-failed requires --all")
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, closeStore, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		if processAll {
			return processAllRun(cmd.Context(), orch, processRetryFailed)
		}

		number, err := parseIssueNumber(args[0])
		if err != nil {
			return err
		}
		return processOneRun(cmd.Context(), orch, number)
	},
}

func processOneRun(ctx context.Context, orch *pipeline.Orchestrator, number int) error {
	found, err := orch.FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			return fmt.Errorf("%w (run 'autopr refresh' first)", err)
		}
		return err
	}

	ui.Info("Processing %s: %s", found.Issue.Reference(), found.Issue.Title)

	result, err := orch.ProcessOne(ctx, found.Issue.ID)
	if err != nil {
		return fmt.Errorf("processing %s failed: %w", found.Issue.Reference(), err)
	}

	ui.Success("Opened pull request #%d for %s: %s", result.PullRequest.Number, result.Issue.Reference(), result.PullRequest.URL)
	ui.VerboseLog("attempt %s on branch %s", result.AttemptID, result.Branch)
	return nil
}

func processAllRun(ctx context.Context, orch *pipeline.Orchestrator, retryFailed bool) error {
	results, err := orch.ProcessAll(ctx, retryFailed)
	if err != nil {
		return err
	}

	counts := make(map[models.Status]int)
	for _, r := range results {
		counts[r.Status]++
	}

	if err := ui.Results(results, ""); err != nil {
		return err
	}
	ui.Info("%d completed, %d failed, %d pending", counts[models.StatusCompleted], counts[models.StatusFailed], counts[models.StatusPending])
	if counts[models.StatusFailed] > 0 {
		ui.Warning("Failed issues can be retried with 'autopr process --all --retry-failed'")
	}
	return nil
}

func init() {
	processCmd.Flags().BoolVar(&processAll, "all", false, "Process every pending issue")
	processCmd.Flags().BoolVar(&processRetryFailed, "retry-failed", false, "With --all, also retry failed issues")
	rootCmd.AddCommand(processCmd)
}
