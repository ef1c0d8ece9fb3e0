package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/executor"
	"github.com/maxkimambo/bqflow/internal/gcp"
	"github.com/maxkimambo/bqflow/internal/logger"
	"github.com/maxkimambo/bqflow/internal/operator"
	"github.com/maxkimambo/bqflow/internal/orchestrator"
	"github.com/maxkimambo/bqflow/internal/pipeline"
	"github.com/maxkimambo/bqflow/internal/store"
	"github.com/maxkimambo/bqflow/internal/utils"
)

// newOperator connects the task operators to Cloud Storage and BigQuery
var newOperator = func(ctx context.Context, cfg pipeline.Config, labels map[string]string) (executor.Operator, error) {
	clients, err := gcp.NewClients(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, pipelineErrors.NewCloudAPIError("Client initialization", err)
	}
	return operator.NewDispatcherFromClients(clients).WithLabels(labels), nil
}

type runOptions struct {
	pipelineFlags
	stateDB     string
	maxParallel int
	taskTimeout time.Duration
	labels      []string
	visualize   string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run [pipeline]",
		Short: "Trigger a pipeline run and wait for it to finish",
		Long: `Trigger a pipeline run and wait for it to finish.

The run waits for the source object, loads it into the staging table, then
runs one transform and one view statement per target. Independent targets run
concurrently. Interrupting the command cancels the run: unfinished tasks are
marked skipped and the run is archived as cancelled.

EXAMPLES:
# Run the built-in reporting pipeline
bqflow run

# Run a pipeline from a file, for two targets only
bqflow run weekly-europe --config pipelines/ --targets France,Italy

# Tag every BigQuery job and keep run history elsewhere
bqflow run --label team=reporting --state-db /var/lib/bqflow/runs.db
`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.maxParallel < 1 || opts.maxParallel > 64 {
				return pipelineErrors.NewInvalidConfigError("--max-parallel",
					fmt.Sprintf("must be between 1 and 64, got %d", opts.maxParallel))
			}
			if opts.taskTimeout < 0 {
				return pipelineErrors.NewInvalidConfigError("--task-timeout", "must not be negative")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, root, opts, args)
		},
	}

	opts.pipelineFlags.register(runCmd)
	runCmd.Flags().StringVar(&opts.stateDB, "state-db", defaultStateDB, "SQLite run archive (empty disables archiving)")
	runCmd.Flags().IntVar(&opts.maxParallel, "max-parallel", executor.DefaultConfig().MaxParallelTasks, "Maximum tasks running at once (1-64)")
	runCmd.Flags().DurationVar(&opts.taskTimeout, "task-timeout", 0, "Default per-attempt timeout for tasks without their own (default 30m)")
	runCmd.Flags().StringSliceVar(&opts.labels, "label", nil, "Label BigQuery jobs with key=value (repeatable)")
	runCmd.Flags().StringVar(&opts.visualize, "visualize", "", "Write the graph with final task statuses to this JSON file")
	return runCmd
}

func runPipeline(cmd *cobra.Command, root *rootOptions, opts *runOptions, args []string) error {
	cfg, err := opts.resolve(args)
	if err != nil {
		return err
	}
	labels, err := utils.ParseLabels(opts.labels)
	if err != nil {
		return pipelineErrors.NewInvalidConfigError("--label", err.Error())
	}
	// configuration errors must surface before any cloud client is created
	if _, err := pipeline.BuildReporting(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	op, err := newOperator(ctx, cfg, labels)
	if err != nil {
		return err
	}

	serviceOpts := []orchestrator.Option{orchestrator.WithProgress()}
	if opts.stateDB != "" {
		archive, err := store.Open(opts.stateDB)
		if err != nil {
			return err
		}
		defer archive.Close()
		serviceOpts = append(serviceOpts, orchestrator.WithArchive(archive))
	}
	if opts.visualize != "" {
		serviceOpts = append(serviceOpts, orchestrator.WithVisualization(opts.visualize))
	}

	execConfig := executor.DefaultConfig()
	execConfig.MaxParallelTasks = opts.maxParallel
	if opts.taskTimeout > 0 {
		execConfig.DefaultTaskTimeout = opts.taskTimeout
	}

	svc := orchestrator.NewService(map[string]pipeline.Config{cfg.Name: cfg}, op, execConfig, serviceOpts...)

	logger.User.Infof("Project: %s (%s)", cfg.Project, cfg.Location)
	logger.User.Infof("Source: %s", cfg.SourceURI())
	logger.User.Infof("Targets: %v", cfg.Targets)

	runID, err := svc.Trigger(ctx, cfg.Name)
	if err != nil {
		return err
	}

	result, runErr := svc.Wait(ctx, runID)
	if ctx.Err() != nil {
		logger.User.Warn("Interrupt received, cancelling run...")
		_ = svc.Cancel(runID)
		result, runErr = svc.Wait(context.Background(), runID)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, utils.RunSummaryBox(result, runErr).Render())
	if !root.quiet {
		fmt.Fprint(out, utils.TaskTable(result).String())
	}
	if opts.stateDB != "" {
		logger.User.Infof("Inspect this run with: bqflow runs show %s --state-db %s", runID, opts.stateDB)
	}
	return runErr
}
