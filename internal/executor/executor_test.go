package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/bqflow/internal/dag"
	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/registry"
)

type taskSpec struct {
	name    string
	retries int
	timeout time.Duration
}

func buildGraph(t *testing.T, tasks []taskSpec, edges [][2]string) *dag.Graph {
	t.Helper()
	reg := registry.New()
	for _, spec := range tasks {
		var opts []registry.TaskOption
		if spec.timeout > 0 {
			opts = append(opts, registry.WithTimeout(spec.timeout))
		}
		_, err := reg.Register(spec.name, registry.KindExecuteStatement, nil, spec.retries, opts...)
		require.NoError(t, err)
	}
	g := dag.NewGraph(reg)
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

// reportingGraph mirrors the sensor -> load -> transform -> view shape
func reportingGraph(t *testing.T, targets ...string) *dag.Graph {
	tasks := []taskSpec{{name: "check_file_exists", retries: 1}, {name: "load_csv_to_bq", retries: 1}}
	edges := [][2]string{{"check_file_exists", "load_csv_to_bq"}}
	for _, target := range targets {
		transform, view := "transform_"+target, "create_view_"+target
		tasks = append(tasks, taskSpec{name: transform, retries: 1}, taskSpec{name: view, retries: 1})
		edges = append(edges, [2]string{"load_csv_to_bq", transform}, [2]string{transform, view})
	}
	return buildGraph(t, tasks, edges)
}

func testConfig() Config {
	return Config{
		MaxParallelTasks:   4,
		DefaultTaskTimeout: 5 * time.Second,
		RetryPolicy:        NewImmediateRetryPolicy(),
	}
}

func succeed(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
	return &TaskOutput{Metadata: map[string]string{"task": task.Name}}, nil
}

// assertOrdering checks that no task started before all its upstreams succeeded
func assertOrdering(t *testing.T, g *dag.Graph, result *RunResult) {
	t.Helper()
	successAt := map[string]int{}
	for i, tr := range result.History {
		if tr.To == StatusSuccess {
			successAt[tr.Task] = i
		}
	}
	for i, tr := range result.History {
		if tr.To != StatusRunning {
			continue
		}
		ups, err := g.Upstream(tr.Task)
		require.NoError(t, err)
		for _, up := range ups {
			idx, ok := successAt[up]
			if assert.True(t, ok, "%s ran but upstream %s never succeeded", tr.Task, up) {
				assert.Less(t, idx, i, "%s started before %s succeeded", tr.Task, up)
			}
		}
	}
}

func TestRun_AllTasksSucceed(t *testing.T) {
	g := reportingGraph(t, "a", "b")
	exec := New(g, OperatorFunc(succeed), testConfig())

	result, err := exec.Run(context.Background(), "reporting", "run-1")

	require.NoError(t, err)
	assert.Equal(t, RunSuccess, result.Status)
	assert.Equal(t, "run-1", result.RunID)
	assert.Len(t, result.Tasks, 6)
	for name, state := range result.Tasks {
		assert.Equal(t, StatusSuccess, state.Status, name)
		assert.Equal(t, 1, state.Attempts, name)
		assert.Equal(t, name, state.Output.Metadata["task"])
	}
	assertOrdering(t, g, result)
}

func TestRun_GeneratesRunID(t *testing.T) {
	g := reportingGraph(t, "a")
	result, err := New(g, OperatorFunc(succeed), testConfig()).Run(context.Background(), "reporting", "")

	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
}

func TestRun_EmptyGraph(t *testing.T) {
	g := dag.NewGraph(registry.New())
	result, err := New(g, OperatorFunc(succeed), testConfig()).Run(context.Background(), "empty", "r")

	require.NoError(t, err)
	assert.Equal(t, RunSuccess, result.Status)
	assert.Empty(t, result.History)
}

func TestRun_LoadFailsAllRetries(t *testing.T) {
	g := reportingGraph(t, "a", "b")
	loadErr := errors.New("load job failed")
	var loadCalls int32
	op := OperatorFunc(func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		if task.Name == "load_csv_to_bq" {
			atomic.AddInt32(&loadCalls, 1)
			return nil, loadErr
		}
		return succeed(ctx, task)
	})

	result, err := New(g, op, testConfig()).Run(context.Background(), "reporting", "run-2")

	require.Error(t, err)
	assert.True(t, errors.Is(err, pipelineErrors.ErrPipelineFailed))
	assert.True(t, errors.Is(err, loadErr))
	assert.Equal(t, RunFailed, result.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loadCalls))

	assert.Equal(t, StatusSuccess, result.Tasks["check_file_exists"].Status)
	load := result.Tasks["load_csv_to_bq"]
	assert.Equal(t, StatusFailed, load.Status)
	assert.Equal(t, 2, load.Attempts)
	assert.True(t, errors.Is(load.Err, pipelineErrors.ErrTaskExecution))

	assert.Equal(t, []string{"load_csv_to_bq"}, result.TasksWithStatus(StatusFailed))
	assert.Equal(t, []string{"create_view_a", "create_view_b", "transform_a", "transform_b"},
		result.TasksWithStatus(StatusSkipped))

	assert.Equal(t, []TaskStatus{
		StatusPending, StatusRunning, StatusUpForRetry, StatusPending, StatusRunning, StatusFailed,
	}, result.TaskHistory("load_csv_to_bq"))
	assert.Equal(t, []TaskStatus{StatusPending, StatusSkipped}, result.TaskHistory("transform_a"))
}

func TestRun_RetryThenSucceed(t *testing.T) {
	g := buildGraph(t, []taskSpec{{name: "flaky", retries: 1}, {name: "after"}}, [][2]string{{"flaky", "after"}})
	var calls int32
	op := OperatorFunc(func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		if task.Name == "flaky" && atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("transient")
		}
		return succeed(ctx, task)
	})

	result, err := New(g, op, testConfig()).Run(context.Background(), "p", "r")

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Tasks["flaky"].Status)
	assert.Equal(t, 2, result.Tasks["flaky"].Attempts)
	assert.Equal(t, StatusSuccess, result.Tasks["after"].Status)
	assertOrdering(t, g, result)
}

func TestRun_RetryWithBackoff(t *testing.T) {
	g := buildGraph(t, []taskSpec{{name: "flaky", retries: 2}}, nil)
	var calls int32
	op := OperatorFunc(func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("transient")
		}
		return succeed(ctx, task)
	})
	cfg := testConfig()
	cfg.RetryPolicy = &RetryPolicy{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond, BackoffFactor: 2}

	result, err := New(g, op, cfg).Run(context.Background(), "p", "r")

	require.NoError(t, err)
	assert.Equal(t, 3, result.Tasks["flaky"].Attempts)
}

func TestRun_TaskTimeout(t *testing.T) {
	g := buildGraph(t, []taskSpec{{name: "slow", timeout: 20 * time.Millisecond}, {name: "after"}},
		[][2]string{{"slow", "after"}})
	op := OperatorFunc(func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		if task.Name == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return succeed(ctx, task)
	})

	result, err := New(g, op, testConfig()).Run(context.Background(), "p", "r")

	require.Error(t, err)
	slow := result.Tasks["slow"]
	assert.Equal(t, StatusFailed, slow.Status)
	assert.True(t, errors.Is(slow.Err, pipelineErrors.ErrTaskTimeout))
	assert.True(t, errors.Is(slow.Err, context.DeadlineExceeded))
	assert.Equal(t, StatusSkipped, result.Tasks["after"].Status)
}

func TestRun_OperatorIgnoringContextIsAbandoned(t *testing.T) {
	g := buildGraph(t, []taskSpec{{name: "stuck", timeout: 20 * time.Millisecond}}, nil)
	release := make(chan struct{})
	defer close(release)
	op := OperatorFunc(func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		<-release
		return nil, nil
	})

	result, err := New(g, op, testConfig()).Run(context.Background(), "p", "r")

	require.Error(t, err)
	assert.True(t, errors.Is(result.Tasks["stuck"].Err, pipelineErrors.ErrTaskTimeout))
}

func TestRun_PanicIsRecovered(t *testing.T) {
	g := buildGraph(t, []taskSpec{{name: "boom"}}, nil)
	op := OperatorFunc(func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		panic("kaboom")
	})

	result, err := New(g, op, testConfig()).Run(context.Background(), "p", "r")

	require.Error(t, err)
	state := result.Tasks["boom"]
	assert.Equal(t, StatusFailed, state.Status)
	assert.True(t, errors.Is(state.Err, pipelineErrors.ErrTaskExecution))
	assert.Contains(t, state.Err.Error(), "kaboom")
}

func TestRun_Cancellation(t *testing.T) {
	g := reportingGraph(t, "a", "b")
	started := make(chan struct{})
	op := OperatorFunc(func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		if task.Name == "load_csv_to_bq" {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return succeed(ctx, task)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result, err := New(g, op, testConfig()).Run(ctx, "reporting", "r")

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, RunCancelled, result.Status)
	assert.Equal(t, StatusSuccess, result.Tasks["check_file_exists"].Status)
	for _, name := range []string{"load_csv_to_bq", "transform_a", "transform_b", "create_view_a", "create_view_b"} {
		assert.Equal(t, StatusSkipped, result.Tasks[name].Status, name)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	g := reportingGraph(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := New(g, OperatorFunc(succeed), testConfig()).Run(ctx, "reporting", "r")

	require.Error(t, err)
	assert.Equal(t, RunCancelled, result.Status)
	assert.Len(t, result.TasksWithStatus(StatusSkipped), 4)
}

func TestRun_RespectsMaxParallel(t *testing.T) {
	var tasks []taskSpec
	for i := 0; i < 6; i++ {
		tasks = append(tasks, taskSpec{name: fmt.Sprintf("task_%d", i)})
	}
	g := buildGraph(t, tasks, nil)

	var current, peak int32
	op := OperatorFunc(func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil, nil
	})
	cfg := testConfig()
	cfg.MaxParallelTasks = 2

	result, err := New(g, op, cfg).Run(context.Background(), "p", "r")

	require.NoError(t, err)
	assert.Len(t, result.TasksWithStatus(StatusSuccess), 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRun_IndependentBranchesProceed(t *testing.T) {
	g := reportingGraph(t, "a", "b")
	op := OperatorFunc(func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		if task.Name == "transform_a" {
			return nil, errors.New("bad sql")
		}
		return succeed(ctx, task)
	})

	result, err := New(g, op, testConfig()).Run(context.Background(), "reporting", "r")

	require.Error(t, err)
	assert.Equal(t, StatusSkipped, result.Tasks["create_view_a"].Status)
	assert.Equal(t, StatusSuccess, result.Tasks["transform_b"].Status)
	assert.Equal(t, StatusSuccess, result.Tasks["create_view_b"].Status)
}

func TestRun_Idempotent(t *testing.T) {
	outcomes := func(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
		if task.Name == "transform_b" {
			return nil, errors.New("always fails")
		}
		return succeed(ctx, task)
	}

	var histories []map[string][]TaskStatus
	for i := 0; i < 2; i++ {
		g := reportingGraph(t, "a", "b", "c")
		result, _ := New(g, OperatorFunc(outcomes), testConfig()).Run(context.Background(), "reporting", "r")
		h := map[string][]TaskStatus{}
		for name := range result.Tasks {
			h[name] = result.TaskHistory(name)
		}
		histories = append(histories, h)
	}

	assert.Equal(t, histories[0], histories[1])
}

func TestRun_ListenerSeesEveryTransition(t *testing.T) {
	g := reportingGraph(t, "a")
	exec := New(g, OperatorFunc(succeed), testConfig())

	var mu sync.Mutex
	var seen []Transition
	exec.OnTransition(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	})

	result, err := exec.Run(context.Background(), "reporting", "run-l")

	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, len(result.History))
	for i := range seen {
		assert.Equal(t, "run-l", seen[i].RunID)
		assert.Equal(t, result.History[i].Task, seen[i].Task)
		assert.Equal(t, result.History[i].To, seen[i].To)
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	exec := New(dag.NewGraph(registry.New()), OperatorFunc(succeed), Config{})

	assert.Equal(t, DefaultConfig().MaxParallelTasks, exec.config.MaxParallelTasks)
	assert.Equal(t, DefaultConfig().DefaultTaskTimeout, exec.config.DefaultTaskTimeout)
	assert.NotNil(t, exec.config.RetryPolicy)
}
