package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/autopr/internal/pipeline"
	"github.com/danielolaszy/autopr/pkg/models"
)

var (
	listOutput string
	listStatus string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked issues and their processing status",
	Long: `List every tracked issue ordered by issue ID. No backend is contacted.

Examples:
  autopr list
  autopr list --status failed
  autopr list -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, closeStore, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		return listRun(cmd.Context(), orch, models.Status(listStatus), listOutput)
	},
}

func listRun(ctx context.Context, orch *pipeline.Orchestrator, status models.Status, format string) error {
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q (want pending, processing, completed or failed)", status)
	}

	results, err := orch.GetAll(ctx)
	if err != nil {
		return err
	}

	if status != "" {
		filtered := results[:0]
		for _, r := range results {
			if r.Status == status {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	return ui.Results(results, format)
}

func init() {
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format: table, json or yaml")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only show results with this status")
	rootCmd.AddCommand(listCmd)
}
