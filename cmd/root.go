package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/logger"
)

var version = "v0.1.0"

type rootOptions struct {
	debug    bool
	verbose  bool
	jsonLogs bool
	quiet    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "bqflow",
		Short: "Run Cloud Storage to BigQuery reporting pipelines",
		Long: `bqflow waits for a CSV object to land in Cloud Storage, loads it into a BigQuery
staging table, then builds one transform table and one reporting view per target.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(opts.verbose || opts.debug, opts.jsonLogs, opts.quiet)
			if opts.debug {
				logger.Op.Debug("Debug logging enabled")
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonLogs, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-error output")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newPipelinesCmd())
	return rootCmd
}

func Execute() error {
	err := newRootCmd().Execute()
	if err == nil {
		return nil
	}
	fmt.Fprint(os.Stderr, pipelineErrors.FormatForCLI(err))
	logger.Op.WithFields(map[string]interface{}{
		"code":     pipelineErrors.GetErrorCode(err),
		"severity": pipelineErrors.GetErrorSeverity(err),
	}).Debug("Command failed")
	return err
}

// ExitCode maps a command error to the process exit status: 2 for
// configuration errors, 1 for everything else
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case pipelineErrors.IsConfigurationError(err):
		return 2
	default:
		return 1
	}
}
