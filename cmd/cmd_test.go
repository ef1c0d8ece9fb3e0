package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/executor"
	"github.com/maxkimambo/bqflow/internal/pipeline"
	"github.com/maxkimambo/bqflow/internal/registry"
	"github.com/maxkimambo/bqflow/internal/store"
)

func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func useOperator(t *testing.T, op executor.Operator) *map[string]string {
	t.Helper()
	var gotLabels map[string]string
	original := newOperator
	newOperator = func(ctx context.Context, cfg pipeline.Config, labels map[string]string) (executor.Operator, error) {
		gotLabels = labels
		return op, nil
	}
	t.Cleanup(func() { newOperator = original })
	return &gotLabels
}

func writePipelineFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smoke.hcl")
	src := `
pipeline "smoke" {
  project = "test-project-1"
  targets = ["Canada", "South Africa"]
  retries = 0
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestPlanCmd_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"table", []string{
			"Pipeline load-reporting-data: 14 tasks, 13 dependencies, 6 targets",
			"│ 1  │ check_file_exists  │ sense",
			"load_csv_to_bq",
			"create_view_usa",
		}},
		{"tree", []string{"14 tasks, 13 dependencies", "- check_file_exists (sense)"}},
		{"json", []string{`"nodes"`, `"edges"`, `"name": "transform_japan"`}},
		{"dot", []string{"digraph", "check_file_exists"}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := executeCmd(t, "plan", "-q", "--format", tt.format)
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestPlanCmd_Overrides(t *testing.T) {
	out, err := executeCmd(t, "plan", "-q", "--targets", "Canada,Brazil")
	require.NoError(t, err)

	assert.Contains(t, out, "6 tasks, 5 dependencies, 2 targets")
	assert.Contains(t, out, "transform_brazil")
	assert.NotContains(t, out, "transform_france")
}

func TestPlanCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown format", []string{"plan", "-q", "--format", "yaml"}, pipelineErrors.ErrInvalidConfig},
		{"unknown pipeline", []string{"plan", "-q", "nightly"}, pipelineErrors.ErrInvalidConfig},
		{"colliding targets", []string{"plan", "-q", "--targets", "USA,usa"}, pipelineErrors.ErrDuplicateName},
		{"bad project", []string{"plan", "-q", "--project", "X"}, pipelineErrors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCmd(t, tt.args...)
			require.Error(t, err)
			assert.True(t, pipelineErrors.Is(err, tt.want), err.Error())
		})
	}
}

func TestPipelinesCmd(t *testing.T) {
	out, err := executeCmd(t, "pipelines", "-q", "--config", "../internal/config/testdata/reporting.hcl")
	require.NoError(t, err)

	assert.Contains(t, out, "load-reporting-data")
	assert.Contains(t, out, "weekly-europe")
	assert.Contains(t, out, "gs://eu-health-drops/weekly/health.csv")
}

func TestRunCmd_Success(t *testing.T) {
	gotLabels := useOperator(t, executor.OperatorFunc(func(ctx context.Context, task *registry.Task) (*executor.TaskOutput, error) {
		return &executor.TaskOutput{}, nil
	}))
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	viz := filepath.Join(dir, "run.json")

	out, err := executeCmd(t, "run", "smoke",
		"--config", writePipelineFile(t),
		"--state-db", db,
		"--visualize", viz,
		"--label", "team=reporting")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"team": "reporting"}, *gotLabels)
	assert.Contains(t, out, "Pipeline smoke succeeded")
	assert.Contains(t, out, "6 succeeded, 0 failed, 0 skipped")
	assert.Contains(t, out, "create_view_south_africa")
	assert.FileExists(t, viz)

	archive, err := store.Open(db)
	require.NoError(t, err)
	defer archive.Close()
	runs, err := archive.ListRuns(context.Background(), "smoke", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].Status)
}

func TestRunCmd_Failure(t *testing.T) {
	useOperator(t, executor.OperatorFunc(func(ctx context.Context, task *registry.Task) (*executor.TaskOutput, error) {
		if task.Name == pipeline.LoadTaskName {
			return nil, errors.New("quota exceeded")
		}
		return &executor.TaskOutput{}, nil
	}))

	out, err := executeCmd(t, "run", "--config", writePipelineFile(t), "--state-db", "")
	require.Error(t, err)
	assert.True(t, pipelineErrors.Is(err, pipelineErrors.ErrPipelineFailed))
	assert.Contains(t, out, "Pipeline smoke failed")
	assert.Contains(t, out, "1 succeeded, 1 failed, 4 skipped")
}

func TestRunCmd_FlagValidation(t *testing.T) {
	useOperator(t, executor.OperatorFunc(func(ctx context.Context, task *registry.Task) (*executor.TaskOutput, error) {
		return nil, errors.New("operator must not run")
	}))

	tests := []struct {
		name string
		args []string
	}{
		{"zero parallel", []string{"run", "--max-parallel", "0"}},
		{"negative timeout", []string{"run", "--task-timeout", "-1s"}},
		{"bad label", []string{"run", "--label", "Bad Key=x", "--state-db", ""}},
		{"unknown pipeline", []string{"run", "nightly", "--state-db", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCmd(t, tt.args...)
			require.Error(t, err)
			assert.True(t, pipelineErrors.Is(err, pipelineErrors.ErrInvalidConfig), err.Error())
		})
	}
}

func TestRunCmd_ConfigErrorsBeforeClients(t *testing.T) {
	clientsCreated := false
	original := newOperator
	newOperator = func(ctx context.Context, cfg pipeline.Config, labels map[string]string) (executor.Operator, error) {
		clientsCreated = true
		return nil, pipelineErrors.NewCloudAPIError("Cloud Storage client", errors.New("no credentials"))
	}
	t.Cleanup(func() { newOperator = original })

	_, err := executeCmd(t, "run", "-q", "--targets", "USA,usa", "--state-db", "")
	require.Error(t, err)
	assert.True(t, pipelineErrors.Is(err, pipelineErrors.ErrDuplicateName), err.Error())
	assert.Equal(t, 2, ExitCode(err))
	assert.False(t, clientsCreated)
}

func TestRunsCmd_ListAndShow(t *testing.T) {
	useOperator(t, executor.OperatorFunc(func(ctx context.Context, task *registry.Task) (*executor.TaskOutput, error) {
		return &executor.TaskOutput{}, nil
	}))
	db := filepath.Join(t.TempDir(), "runs.db")

	_, err := executeCmd(t, "run", "-q", "--config", writePipelineFile(t), "--state-db", db)
	require.NoError(t, err)

	out, err := executeCmd(t, "runs", "list", "-q", "--state-db", db, "--output-json")
	require.NoError(t, err)
	var runs []store.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	runID := runs[0].ID

	out, err = executeCmd(t, "runs", "list", "-q", "--state-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "success")

	out, err = executeCmd(t, "runs", "show", runID, "-q", "--state-db", db, "--history")
	require.NoError(t, err)
	assert.Contains(t, out, "Run "+runID)
	assert.Contains(t, out, "transform_south_africa")
	assert.Equal(t, 6*2, strings.Count(out, "│ pending │ running │")+strings.Count(out, "│ running │ success │"))

	_, err = executeCmd(t, "runs", "show", "missing", "-q", "--state-db", db)
	assert.True(t, errors.Is(err, store.ErrRunNotFound))
}

func TestRunsCmd_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	archive, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, archive.Close())

	out, err := executeCmd(t, "runs", "list", "-q", "--state-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestRunsCmd_MissingArchive(t *testing.T) {
	db := filepath.Join(t.TempDir(), "absent.db")

	out, err := executeCmd(t, "runs", "list", "-q", "--state-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")

	_, err = executeCmd(t, "runs", "show", "some-run", "-q", "--state-db", db)
	require.Error(t, err)
	assert.True(t, pipelineErrors.Is(err, pipelineErrors.ErrInvalidConfig), err.Error())

	_, statErr := os.Stat(db)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "read commands must not create the archive")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(pipelineErrors.NewInvalidConfigError("--format", "bad")))
	assert.Equal(t, 2, ExitCode(pipelineErrors.NewDuplicateNameError("transform_usa")))
	assert.Equal(t, 1, ExitCode(pipelineErrors.NewPipelineFailedError("p", "r", nil, nil, nil)))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}
