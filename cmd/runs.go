package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/executor"
	"github.com/maxkimambo/bqflow/internal/store"
	"github.com/maxkimambo/bqflow/internal/utils"
)

const timeLayout = "2006-01-02 15:04:05"

func newRunsCmd() *cobra.Command {
	var stateDB string

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived pipeline runs",
	}
	runsCmd.PersistentFlags().StringVar(&stateDB, "state-db", defaultStateDB, "SQLite run archive")

	runsCmd.AddCommand(newRunsListCmd(&stateDB))
	runsCmd.AddCommand(newRunsShowCmd(&stateDB))
	return runsCmd
}

func newRunsListCmd(stateDB *string) *cobra.Command {
	var (
		pipelineName string
		limit        int
		asJSON       bool
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(*stateDB)
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintln(cmd.OutOrStdout(), utils.Info("No runs recorded.", "No run archive at "+*stateDB))
				return nil
			}
			if err != nil {
				return err
			}
			defer archive.Close()

			runs, err := archive.ListRuns(cmd.Context(), pipelineName, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, utils.Info("No runs recorded.", "Archive: "+*stateDB))
				return nil
			}

			table := utils.NewTableFormatter("RUN", "PIPELINE", "STATUS", "STARTED", "DURATION")
			for _, r := range runs {
				table.AddRow(r.ID, r.Pipeline, r.Status, r.CreatedAt.Local().Format(timeLayout), runDuration(r))
			}
			fmt.Fprint(out, table.String())
			return nil
		},
	}

	listCmd.Flags().StringVar(&pipelineName, "pipeline", "", "Only show runs of this pipeline")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	listCmd.Flags().BoolVar(&asJSON, "output-json", false, "Print runs as JSON")
	return listCmd
}

func newRunsShowCmd(stateDB *string) *cobra.Command {
	var (
		history bool
		asJSON  bool
	)

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the tasks and status history of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(*stateDB)
			if errors.Is(err, fs.ErrNotExist) {
				return pipelineErrors.NewInvalidConfigError("--state-db", fmt.Sprintf("no run archive at %s", *stateDB))
			}
			if err != nil {
				return err
			}
			defer archive.Close()

			detail, err := archive.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, detail)
			}

			box := utils.NewBox(boxType(detail.Run.Status), fmt.Sprintf("Run %s", detail.Run.ID)).
				AddKeyValue("Pipeline", detail.Run.Pipeline).
				AddKeyValue("Status", detail.Run.Status).
				AddKeyValue("Started", detail.Run.CreatedAt.Local().Format(timeLayout)).
				AddKeyValue("Duration", runDuration(detail.Run))
			if detail.Run.Error != "" {
				box.AddKeyValue("Error", detail.Run.Error)
			}
			fmt.Fprintln(out, box.Render())

			tasks := utils.NewTableFormatter("TASK", "STATUS", "ATTEMPTS", "ERROR")
			for _, t := range detail.Tasks {
				tasks.AddRow(t.Task, t.Status, strconv.Itoa(t.Attempts), t.Error)
			}
			fmt.Fprint(out, tasks.String())

			if history {
				transitions := utils.NewTableFormatter("TIME", "TASK", "FROM", "TO", "ATTEMPT")
				for _, t := range detail.Transitions {
					transitions.AddRow(t.CreatedAt.Local().Format(timeLayout), t.Task, t.From, t.To, strconv.Itoa(t.Attempt))
				}
				fmt.Fprint(out, transitions.String())
			}
			return nil
		},
	}

	showCmd.Flags().BoolVar(&history, "history", false, "Also print every task status transition")
	showCmd.Flags().BoolVar(&asJSON, "output-json", false, "Print the run as JSON")
	return showCmd
}

// openArchive opens an existing run archive. Read commands must not create
// an empty one as a side effect.
func openArchive(path string) (*store.Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

func boxType(status string) utils.MessageType {
	switch executor.RunStatus(status) {
	case executor.RunSuccess:
		return utils.SuccessMessage
	case executor.RunFailed:
		return utils.ErrorMessage
	case executor.RunCancelled:
		return utils.WarningMessage
	default:
		return utils.InfoMessage
	}
}

func runDuration(r store.RunRecord) string {
	if r.Status == string(executor.RunRunning) {
		return "-"
	}
	return r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
