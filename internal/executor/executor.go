package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/maxkimambo/bqflow/internal/dag"
	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/logger"
	"github.com/maxkimambo/bqflow/internal/registry"
)

// TaskOutput is what an operator reports about a successful attempt
type TaskOutput struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Operator performs the work of a task. Implementations must honour ctx
// cancellation; the executor abandons attempts whose context is done.
type Operator interface {
	Execute(ctx context.Context, task *registry.Task) (*TaskOutput, error)
}

// OperatorFunc adapts a function to the Operator interface
type OperatorFunc func(ctx context.Context, task *registry.Task) (*TaskOutput, error)

func (f OperatorFunc) Execute(ctx context.Context, task *registry.Task) (*TaskOutput, error) {
	return f(ctx, task)
}

// Config controls scheduling behaviour
type Config struct {
	MaxParallelTasks   int
	DefaultTaskTimeout time.Duration
	RetryPolicy        *RetryPolicy
}

// DefaultConfig returns the configuration used by the CLI when no flags override it
func DefaultConfig() Config {
	return Config{
		MaxParallelTasks:   4,
		DefaultTaskTimeout: 30 * time.Minute,
		RetryPolicy:        NewDefaultRetryPolicy(),
	}
}

// TaskState is the per-task record of one run
type TaskState struct {
	Name      string      `json:"name"`
	Status    TaskStatus  `json:"status"`
	Attempts  int         `json:"attempts"`
	Err       error       `json:"-"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	EndedAt   time.Time   `json:"ended_at,omitempty"`
	Output    *TaskOutput `json:"output,omitempty"`
}

// RunResult is the outcome of a pipeline run
type RunResult struct {
	RunID     string                `json:"run_id"`
	Pipeline  string                `json:"pipeline"`
	Status    RunStatus             `json:"status"`
	Tasks     map[string]*TaskState `json:"tasks"`
	History   []Transition          `json:"history"`
	StartedAt time.Time             `json:"started_at"`
	EndedAt   time.Time             `json:"ended_at"`
}

// TaskHistory returns the sequence of statuses a task went through,
// starting with pending
func (r *RunResult) TaskHistory(name string) []TaskStatus {
	seq := []TaskStatus{StatusPending}
	for _, t := range r.History {
		if t.Task == name {
			seq = append(seq, t.To)
		}
	}
	return seq
}

// TasksWithStatus returns the sorted names of tasks currently in status
func (r *RunResult) TasksWithStatus(status TaskStatus) []string {
	var names []string
	for name, state := range r.Tasks {
		if state.Status == status {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Executor runs the tasks of a dependency graph in readiness order
type Executor struct {
	graph     *dag.Graph
	operator  Operator
	config    Config
	listeners []StatusListener
}

// New creates an executor for graph. Zero values in cfg fall back to DefaultConfig.
func New(graph *dag.Graph, operator Operator, cfg Config) *Executor {
	defaults := DefaultConfig()
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = defaults.MaxParallelTasks
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = defaults.DefaultTaskTimeout
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = defaults.RetryPolicy
	}
	return &Executor{graph: graph, operator: operator, config: cfg}
}

// OnTransition registers a listener for status transitions
func (e *Executor) OnTransition(listener StatusListener) {
	e.listeners = append(e.listeners, listener)
}

type attemptResult struct {
	task    string
	attempt int
	output  *TaskOutput
	err     error
}

// run holds the coordinator-owned state of a single Run call
type run struct {
	e         *Executor
	result    *RunResult
	pending   map[string]int
	backoffs  map[string]*Backoff
	ready     []string
	cancelled bool
}

// Run executes every task in the graph. A nil error means every task
// succeeded. On task failure the error is a PipelineFailedError; on
// cancellation it wraps ctx.Err(). The RunResult is always returned.
func (e *Executor) Run(ctx context.Context, pipelineName, runID string) (*RunResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}

	r := &run{
		e: e,
		result: &RunResult{
			RunID:     runID,
			Pipeline:  pipelineName,
			Status:    RunRunning,
			Tasks:     make(map[string]*TaskState),
			StartedAt: time.Now(),
		},
		pending:  make(map[string]int),
		backoffs: make(map[string]*Backoff),
	}

	names := e.graph.Registry().Names()
	for _, name := range names {
		r.result.Tasks[name] = &TaskState{Name: name, Status: StatusPending}
		ups, _ := e.graph.Upstream(name)
		r.pending[name] = len(ups)
		if len(ups) == 0 {
			r.ready = append(r.ready, name)
		}
	}

	logger.Op.WithFields(map[string]interface{}{
		"pipeline":    pipelineName,
		"runID":       runID,
		"tasks":       len(names),
		"maxParallel": e.config.MaxParallelTasks,
	}).Info("Starting pipeline run")

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	results := make(chan attemptResult)
	retries := make(chan string)
	done := ctx.Done()
	running, waiting := 0, 0

	checkCancelled := func() {
		if !r.cancelled && ctx.Err() != nil {
			r.cancel()
			cancelRun()
			done = nil
		}
	}

	for {
		checkCancelled()

		for !r.cancelled && running < e.config.MaxParallelTasks && len(r.ready) > 0 {
			name := r.ready[0]
			r.ready = r.ready[1:]
			r.start(runCtx, name, results)
			running++
		}

		if running == 0 && waiting == 0 {
			break
		}

		select {
		case res := <-results:
			running--
			checkCancelled()
			if delay, retry := r.complete(res); retry {
				if delay <= 0 {
					r.requeue(res.task)
				} else {
					waiting++
					go func(name string, d time.Duration) {
						_ = Wait(runCtx, d)
						retries <- name
					}(res.task, delay)
				}
			}
		case name := <-retries:
			waiting--
			checkCancelled()
			if !r.cancelled {
				r.requeue(name)
			}
		case <-done:
		}
	}

	return r.finish(ctx)
}

func (r *run) transition(name string, to TaskStatus, err error) {
	state := r.result.Tasks[name]
	t := Transition{
		RunID:   r.result.RunID,
		Task:    name,
		From:    state.Status,
		To:      to,
		Attempt: state.Attempts,
		At:      time.Now(),
		Err:     err,
	}
	state.Status = to
	if err != nil {
		state.Err = err
	}
	r.result.History = append(r.result.History, t)

	logger.Op.WithFields(map[string]interface{}{
		"runID":   t.RunID,
		"task":    name,
		"from":    t.From.String(),
		"to":      t.To.String(),
		"attempt": t.Attempt,
	}).Debug("Task transition")

	for _, listener := range r.e.listeners {
		listener(t)
	}
}

func (r *run) start(ctx context.Context, name string, results chan<- attemptResult) {
	state := r.result.Tasks[name]
	state.Attempts++
	if state.Attempts == 1 {
		state.StartedAt = time.Now()
	}
	r.transition(name, StatusRunning, nil)

	task, _ := r.e.graph.Registry().Lookup(name)
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = r.e.config.DefaultTaskTimeout
	}

	go func(attempt int) {
		out, err := r.e.attempt(ctx, task, attempt, timeout)
		results <- attemptResult{task: name, attempt: attempt, output: out, err: err}
	}(state.Attempts)
}

// attempt runs one try of task under its own deadline
func (e *Executor) attempt(ctx context.Context, task *registry.Task, attempt int, timeout time.Duration) (*TaskOutput, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output *TaskOutput
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("operator panic: %v", p)}
			}
		}()
		out, err := e.operator.Execute(attemptCtx, task)
		ch <- outcome{output: out, err: err}
	}()

	var res outcome
	select {
	case res = <-ch:
	case <-attemptCtx.Done():
		res = outcome{err: attemptCtx.Err()}
	}

	if res.err == nil {
		if res.output == nil {
			res.output = &TaskOutput{}
		}
		return res.output, nil
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, pipelineErrors.NewTaskTimeoutError(task.Name, attempt, timeout, res.err)
	}
	return nil, pipelineErrors.NewTaskExecutionError(task.Name, attempt, res.err)
}

// complete records the outcome of an attempt. It reports whether the task
// should be retried and after which delay.
func (r *run) complete(res attemptResult) (time.Duration, bool) {
	state := r.result.Tasks[res.task]

	if res.err == nil {
		state.Output = res.output
		state.EndedAt = time.Now()
		r.transition(res.task, StatusSuccess, nil)
		r.release(res.task)
		return 0, false
	}

	if r.cancelled {
		state.EndedAt = time.Now()
		r.transition(res.task, StatusSkipped, res.err)
		return 0, false
	}

	task, _ := r.e.graph.Registry().Lookup(res.task)
	if pipelineErrors.IsRetryableError(res.err) && r.e.config.RetryPolicy.ShouldRetry(state.Attempts, task.Retries) {
		r.transition(res.task, StatusUpForRetry, res.err)
		b, ok := r.backoffs[res.task]
		if !ok {
			b = r.e.config.RetryPolicy.NewBackoff()
			r.backoffs[res.task] = b
		}
		delay := b.Pause()
		logger.Op.WithFields(map[string]interface{}{
			"runID":   r.result.RunID,
			"task":    res.task,
			"attempt": state.Attempts,
			"backoff": delay.String(),
			"error":   res.err.Error(),
		}).Warn("Task failed, retrying after backoff")
		return delay, true
	}

	state.EndedAt = time.Now()
	r.transition(res.task, StatusFailed, res.err)
	logger.Op.WithFields(map[string]interface{}{
		"runID":    r.result.RunID,
		"task":     res.task,
		"attempts": state.Attempts,
		"error":    res.err.Error(),
	}).Error("Task permanently failed after exhausting retries")

	descendants, _ := r.e.graph.Descendants(res.task)
	for _, name := range descendants {
		if r.result.Tasks[name].Status == StatusPending {
			r.transition(name, StatusSkipped, nil)
		}
	}
	r.dropSkipped()
	return 0, false
}

// release makes downstream tasks whose upstreams have all succeeded ready
func (r *run) release(name string) {
	downs, _ := r.e.graph.Downstream(name)
	for _, down := range downs {
		r.pending[down]--
		if r.pending[down] == 0 && r.result.Tasks[down].Status == StatusPending {
			r.enqueue(down)
		}
	}
}

func (r *run) requeue(name string) {
	r.transition(name, StatusPending, nil)
	r.enqueue(name)
}

// enqueue keeps ready sorted so dispatch order is deterministic
func (r *run) enqueue(name string) {
	i := sort.SearchStrings(r.ready, name)
	r.ready = append(r.ready, "")
	copy(r.ready[i+1:], r.ready[i:])
	r.ready[i] = name
}

func (r *run) dropSkipped() {
	kept := r.ready[:0]
	for _, name := range r.ready {
		if r.result.Tasks[name].Status == StatusPending {
			kept = append(kept, name)
		}
	}
	r.ready = kept
}

// cancel skips every task that is not running or terminal. Running tasks are
// settled when their attempt returns.
func (r *run) cancel() {
	r.cancelled = true
	r.ready = nil
	for _, name := range r.e.graph.Registry().Names() {
		switch r.result.Tasks[name].Status {
		case StatusPending, StatusUpForRetry:
			r.transition(name, StatusSkipped, nil)
		}
	}
	logger.Op.WithFields(map[string]interface{}{
		"runID": r.result.RunID,
	}).Warn("Pipeline run cancelled")
}

func (r *run) finish(ctx context.Context) (*RunResult, error) {
	res := r.result
	res.EndedAt = time.Now()

	// Unreachable tasks can only remain if an upstream never settled
	for _, name := range r.e.graph.Registry().Names() {
		if !res.Tasks[name].Status.IsTerminal() {
			r.transition(name, StatusSkipped, nil)
		}
	}

	failed := res.TasksWithStatus(StatusFailed)
	fields := map[string]interface{}{
		"pipeline": res.Pipeline,
		"runID":    res.RunID,
		"duration": res.EndedAt.Sub(res.StartedAt).String(),
	}

	switch {
	case r.cancelled:
		res.Status = RunCancelled
		logger.Op.WithFields(fields).Warn("Pipeline run ended cancelled")
		return res, fmt.Errorf("pipeline %s run %s cancelled: %w", res.Pipeline, res.RunID, ctx.Err())
	case len(failed) > 0:
		res.Status = RunFailed
		logger.Op.WithFields(fields).Error("Pipeline run failed")
		return res, pipelineErrors.NewPipelineFailedError(res.Pipeline, res.RunID, failed,
			res.TasksWithStatus(StatusSkipped), res.Tasks[failed[0]].Err)
	default:
		res.Status = RunSuccess
		logger.Op.WithFields(fields).Info("Pipeline run succeeded")
		return res, nil
	}
}
