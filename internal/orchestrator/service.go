package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/maxkimambo/bqflow/internal/dag"
	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/executor"
	"github.com/maxkimambo/bqflow/internal/logger"
	"github.com/maxkimambo/bqflow/internal/pipeline"
	"github.com/maxkimambo/bqflow/internal/progress"
)

// ErrUnknownRun is returned for run ids the service did not start
var ErrUnknownRun = errors.New("unknown run")

// RunArchive persists runs. *store.Store satisfies it.
type RunArchive interface {
	SaveRun(ctx context.Context, runID, pipelineName string, spec any) error
	UpdateRunStatus(ctx context.Context, runID string, status executor.RunStatus, runErr error) error
	Listener(ctx context.Context) executor.StatusListener
}

// Option customizes a Service
type Option func(*Service)

// WithArchive records every run and transition in archive
func WithArchive(archive RunArchive) Option {
	return func(s *Service) {
		s.archive = archive
	}
}

// WithProgress prints task transitions and periodic progress for each run
func WithProgress() Option {
	return func(s *Service) {
		s.progress = true
	}
}

// WithVisualization writes the graph with final task statuses as JSON to
// path after every run
func WithVisualization(path string) Option {
	return func(s *Service) {
		s.visualizeFile = path
	}
}

// WithListener adds a listener to every run
func WithListener(listener executor.StatusListener) Option {
	return func(s *Service) {
		s.listeners = append(s.listeners, listener)
	}
}

// Service triggers pipeline runs by name and tracks them until they finish
type Service struct {
	configs       map[string]pipeline.Config
	operator      executor.Operator
	execConfig    executor.Config
	archive       RunArchive
	listeners     []executor.StatusListener
	progress      bool
	visualizeFile string

	mu   sync.Mutex
	runs map[string]*runHandle
}

type runHandle struct {
	id       string
	pipeline string
	cancel   context.CancelFunc
	done     chan struct{}
	result   *executor.RunResult
	err      error
}

// NewService creates a service that can run any of configs
func NewService(configs map[string]pipeline.Config, operator executor.Operator, execConfig executor.Config, opts ...Option) *Service {
	s := &Service{
		configs:    configs,
		operator:   operator,
		execConfig: execConfig,
		runs:       make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pipelines returns the names of the pipelines the service can run
func (s *Service) Pipelines() []string {
	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plan builds the named pipeline without running it
func (s *Service) Plan(name string) (*pipeline.Pipeline, error) {
	cfg, ok := s.configs[name]
	if !ok {
		return nil, pipelineErrors.NewInvalidConfigError("pipeline",
			fmt.Sprintf("unknown pipeline %q (available: %v)", name, s.Pipelines()))
	}
	return pipeline.BuildReporting(cfg)
}

// Trigger starts a run of the named pipeline and returns its id without
// waiting. Configuration errors are returned before anything runs. The run
// outlives ctx; use Cancel to stop it.
func (s *Service) Trigger(ctx context.Context, name string) (string, error) {
	p, err := s.Plan(name)
	if err != nil {
		return "", err
	}

	runID := uuid.NewString()
	if s.archive != nil {
		if err := s.archive.SaveRun(ctx, runID, p.Name, p.Config); err != nil {
			return "", err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &runHandle{
		id:       runID,
		pipeline: p.Name,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.mu.Lock()
	s.runs[runID] = h
	s.mu.Unlock()

	exec := executor.New(p.Graph, s.operator, s.execConfig)
	for _, l := range s.listeners {
		exec.OnTransition(l)
	}
	if s.archive != nil {
		exec.OnTransition(s.archive.Listener(context.WithoutCancel(runCtx)))
	}
	if s.progress {
		exec.OnTransition(progress.NewReporter(p.Registry.Len()).Listener())
	}

	logger.User.Startingf("Triggered %s run %s (%d tasks)", p.Name, runID, p.Registry.Len())

	go func() {
		defer close(h.done)
		defer cancel()

		result, runErr := exec.Run(runCtx, p.Name, runID)

		if s.archive != nil {
			// the run context may be cancelled; the final status must still land
			if err := s.archive.UpdateRunStatus(context.WithoutCancel(runCtx), runID, result.Status, runErr); err != nil {
				logger.Op.WithFields(map[string]interface{}{"runID": runID}).WithError(err).Warn("Failed to archive run status")
			}
		}
		if s.visualizeFile != "" {
			s.exportVisualization(p, result)
		}

		s.mu.Lock()
		h.result, h.err = result, runErr
		s.mu.Unlock()
	}()

	return runID, nil
}

func (s *Service) exportVisualization(p *pipeline.Pipeline, result *executor.RunResult) {
	viz := dag.NewGraphVisualization(p.Graph, func(name string) string {
		if state, ok := result.Tasks[name]; ok {
			return state.Status.String()
		}
		return ""
	})
	if err := viz.ExportToJSON(s.visualizeFile); err != nil {
		logger.Op.WithFields(map[string]interface{}{"file": s.visualizeFile}).WithError(err).Warn("Failed to export run visualization")
		return
	}
	logger.User.Infof("Run graph written to %s", s.visualizeFile)
}

func (s *Service) handle(runID string) (*runHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return h, nil
}

// Wait blocks until the run finishes or ctx is done
func (s *Service) Wait(ctx context.Context, runID string) (*executor.RunResult, error) {
	h, err := s.handle(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.result, h.err
}

// Cancel stops the run. Tasks not yet finished are skipped.
func (s *Service) Cancel(runID string) error {
	h, err := s.handle(runID)
	if err != nil {
		return err
	}
	logger.User.Warnf("Cancelling run %s", runID)
	h.cancel()
	return nil
}

// Status reports running until the run has finished, then its final status
func (s *Service) Status(runID string) (executor.RunStatus, error) {
	h, err := s.handle(runID)
	if err != nil {
		return "", err
	}
	select {
	case <-h.done:
	default:
		return executor.RunRunning, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.result.Status, nil
}
