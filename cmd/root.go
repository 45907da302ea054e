// Package cmd provides the command-line interface for autopr.
package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/autopr/internal/logging"
	"github.com/danielolaszy/autopr/internal/output"
)

// Package-level shared state, initialized before every command runs.
var (
	ui        *output.UI
	logCloser io.Closer

	cfgFile   string
	verbose   bool
	logToFile bool

	buildVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "autopr",
	Short: "autopr turns open issues into pull requests with AI generated fixes",
	Long: `autopr fetches the open issues of a repository, asks an AI model for a fix,
commits the proposed file changes to a work branch and opens a pull request.

Every issue is tracked through pending, processing, completed and failed.
Run 'autopr refresh' to pick up new issues and 'autopr process' to work on them.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

// Execute adds all child commands to the root command and runs it. Long
// running calls stop when ctx is cancelled.
func Execute(ctx context.Context, version string) error {
	if version != "" {
		buildVersion = version
	}
	rootCmd.Version = buildVersion
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.config/autopr/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-file", false, "Also write logs to ~/.autopr/logs")
}

func setup(cmd *cobra.Command, args []string) error {
	ui = output.New()
	ui.Out = cmd.OutOrStdout()
	ui.ErrOut = cmd.ErrOrStderr()
	ui.Verbose = verbose

	if logToFile {
		level := logging.LogLevel(os.Getenv("LOG_LEVEL"))
		closer, err := logging.SetupFileLogger("autopr", "", level)
		if err != nil {
			return err
		}
		logCloser = closer
	}

	logging.Debug("starting autopr", "version", buildVersion, "command", cmd.Name())
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}
