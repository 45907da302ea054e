package cmd

import (
	"github.com/spf13/cobra"

	"github.com/danielolaszy/autopr/internal/logging"
	"github.com/danielolaszy/autopr/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so that agents can
drive autopr as a tool. Configure it in an MCP client with:

  {
    "mcpServers": {
      "autopr": { "command": "autopr", "args": ["mcp"] }
    }
  }

Available tools: autopr_refresh, autopr_list, autopr_process`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, closeStore, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		logging.Info("starting mcp server", "version", buildVersion)
		return mcp.NewServer(orch, buildVersion).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
