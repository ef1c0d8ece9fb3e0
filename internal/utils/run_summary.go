package utils

import (
	"fmt"
	"sort"
	"strconv"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/executor"
	"github.com/maxkimambo/bqflow/internal/progress"
)

// RunSummaryBox renders the final outcome of a run
func RunSummaryBox(result *executor.RunResult, runErr error) *Box {
	var box *Box
	switch result.Status {
	case executor.RunSuccess:
		box = NewBox(SuccessMessage, fmt.Sprintf("Pipeline %s succeeded", result.Pipeline))
	case executor.RunCancelled:
		box = NewBox(WarningMessage, fmt.Sprintf("Pipeline %s cancelled", result.Pipeline))
	default:
		box = NewBox(ErrorMessage, fmt.Sprintf("Pipeline %s failed", result.Pipeline))
	}

	box.AddKeyValue("Run", result.RunID).
		AddKeyValue("Duration", progress.FormatDuration(result.EndedAt.Sub(result.StartedAt))).
		AddKeyValue("Tasks", fmt.Sprintf("%d succeeded, %d failed, %d skipped",
			len(result.TasksWithStatus(executor.StatusSuccess)),
			len(result.TasksWithStatus(executor.StatusFailed)),
			len(result.TasksWithStatus(executor.StatusSkipped))))

	for _, name := range result.TasksWithStatus(executor.StatusFailed) {
		state := result.Tasks[name]
		box.AddBullet(fmt.Sprintf("%s: %s", name, pipelineErrors.DisplayErrorSummary(state.Err)))
	}
	if runErr != nil && result.Status == executor.RunCancelled {
		box.AddLine(runErr.Error())
	}
	return box
}

// TaskTable lists the tasks of a run in name order
func TaskTable(result *executor.RunResult) *TableFormatter {
	names := make([]string, 0, len(result.Tasks))
	for name := range result.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	table := NewTableFormatter("TASK", "STATUS", "ATTEMPTS", "DURATION")
	for _, name := range names {
		state := result.Tasks[name]
		duration := "-"
		if !state.StartedAt.IsZero() && !state.EndedAt.IsZero() {
			duration = progress.FormatDuration(state.EndedAt.Sub(state.StartedAt))
		}
		table.AddRow(name, state.Status.String(), strconv.Itoa(state.Attempts), duration)
	}
	return table
}
