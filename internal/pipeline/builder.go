package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maxkimambo/bqflow/internal/dag"
	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/logger"
	"github.com/maxkimambo/bqflow/internal/operator"
	"github.com/maxkimambo/bqflow/internal/registry"
)

// Task names of the fixed stages
const (
	SensorTaskName = "check_file_exists"
	LoadTaskName   = "load_csv_to_bq"
)

// TaskHandle refers to a task registered through a Builder. Handles are the
// only way to declare dependencies, so edges never name unregistered tasks.
type TaskHandle struct {
	name    string
	builder *Builder
}

func (h TaskHandle) Name() string {
	return h.name
}

// TargetTasks are the two tasks created for one target
type TargetTasks struct {
	Target    string
	Transform TaskHandle
	View      TaskHandle
}

// Pipeline is a validated, fully wired task graph
type Pipeline struct {
	Name     string
	Config   Config
	Registry *registry.Registry
	Graph    *dag.Graph
	Targets  []TargetTasks
}

// Builder assembles the reporting pipeline from a Config
type Builder struct {
	config   Config
	registry *registry.Registry
	graph    *dag.Graph
	targets  []TargetTasks
}

func NewBuilder(cfg Config) *Builder {
	reg := registry.New()
	return &Builder{
		config:   cfg,
		registry: reg,
		graph:    dag.NewGraph(reg),
	}
}

func (b *Builder) register(name string, kind registry.Kind, params map[string]string, opts ...registry.TaskOption) (TaskHandle, error) {
	if b.config.TaskTimeout > 0 && kind != registry.KindSense {
		opts = append(opts, registry.WithTimeout(b.config.TaskTimeout))
	}
	task, err := b.registry.Register(name, kind, params, b.config.Retries, opts...)
	if err != nil {
		return TaskHandle{}, err
	}
	return TaskHandle{name: task.Name, builder: b}, nil
}

// SenseObject registers the task that waits for the configured object
func (b *Builder) SenseObject() (TaskHandle, error) {
	return b.register(SensorTaskName, registry.KindSense,
		map[string]string{
			operator.ParamBucket:       b.config.Bucket,
			operator.ParamObject:       b.config.Object,
			operator.ParamPokeInterval: b.config.PokeInterval.String(),
		},
		registry.WithTimeout(b.config.SensorTimeout),
		registry.WithDescription(fmt.Sprintf("Wait for %s", b.config.SourceURI())),
	)
}

// LoadCSV registers the bulk load of the object into the staging table
func (b *Builder) LoadCSV() (TaskHandle, error) {
	opts := b.config.Load
	return b.register(LoadTaskName, registry.KindBulkLoad,
		map[string]string{
			operator.ParamSourceURIs:          b.config.SourceURI(),
			operator.ParamDestination:         b.config.StagingRef().String(),
			operator.ParamSourceFormat:        b.config.SourceFormat,
			operator.ParamSkipLeadingRows:     strconv.FormatInt(opts.SkipLeadingRows, 10),
			operator.ParamFieldDelimiter:      opts.FieldDelimiter,
			operator.ParamAllowJaggedRows:     strconv.FormatBool(opts.AllowJaggedRows),
			operator.ParamIgnoreUnknownValues: strconv.FormatBool(opts.IgnoreUnknownValues),
			operator.ParamAutodetect:          strconv.FormatBool(opts.Autodetect),
			operator.ParamWriteDisposition:    opts.WriteDisposition,
		},
		registry.WithDescription(fmt.Sprintf("Load %s into %s", b.config.SourceURI(), b.config.StagingRef())),
	)
}

// AddTarget registers the transform and view tasks for target, both
// downstream of upstream. Targets that normalize to an existing target are
// rejected with a duplicate-name error.
func (b *Builder) AddTarget(upstream TaskHandle, target string) (TargetTasks, error) {
	norm := NormalizeTarget(target)
	if norm == "" {
		return TargetTasks{}, pipelineErrors.NewInvalidConfigError("targets", fmt.Sprintf("target %q is empty after normalization", target))
	}
	for _, existing := range b.targets {
		if NormalizeTarget(existing.Target) == norm {
			return TargetTasks{}, pipelineErrors.NewDuplicateNameError("transform_"+norm).
				WithContext("target", target).
				WithContext("conflicts_with", existing.Target)
		}
	}

	transformRef := b.config.TransformRef(target)
	transform, err := b.register("transform_"+norm, registry.KindExecuteStatement,
		map[string]string{
			operator.ParamSQL:         TransformSQL(b.config, target),
			operator.ParamDestination: transformRef.String(),
		},
		registry.WithDescription(fmt.Sprintf("Build %s for %s", transformRef, strings.TrimSpace(target))),
	)
	if err != nil {
		return TargetTasks{}, err
	}

	viewRef := b.config.ViewRef(target)
	view, err := b.register("create_view_"+norm, registry.KindExecuteStatement,
		map[string]string{
			operator.ParamSQL:         ViewSQL(b.config, target),
			operator.ParamDestination: viewRef.String(),
		},
		registry.WithDescription(fmt.Sprintf("Create reporting view %s", viewRef)),
	)
	if err != nil {
		return TargetTasks{}, err
	}

	if err := b.Then(upstream, transform); err != nil {
		return TargetTasks{}, err
	}
	if err := b.Then(transform, view); err != nil {
		return TargetTasks{}, err
	}

	tasks := TargetTasks{Target: target, Transform: transform, View: view}
	b.targets = append(b.targets, tasks)
	return tasks, nil
}

// Then declares that down runs only after up succeeds
func (b *Builder) Then(up, down TaskHandle) error {
	for _, h := range []TaskHandle{up, down} {
		if h.builder != b {
			return pipelineErrors.NewNotFoundError(h.name, "Dependency registration")
		}
	}
	return b.graph.AddEdge(up.name, down.name)
}

// Build validates the graph and returns the pipeline
func (b *Builder) Build() (*Pipeline, error) {
	if _, err := b.graph.TopologicalOrder(); err != nil {
		return nil, err
	}
	return &Pipeline{
		Name:     b.config.Name,
		Config:   b.config,
		Registry: b.registry,
		Graph:    b.graph,
		Targets:  append([]TargetTasks(nil), b.targets...),
	}, nil
}

// BuildReporting validates cfg and assembles sensor -> load -> per-target
// transform -> view
func BuildReporting(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := NewBuilder(cfg)
	sense, err := b.SenseObject()
	if err != nil {
		return nil, err
	}
	load, err := b.LoadCSV()
	if err != nil {
		return nil, err
	}
	if err := b.Then(sense, load); err != nil {
		return nil, err
	}
	for _, target := range cfg.Targets {
		if _, err := b.AddTarget(load, target); err != nil {
			return nil, err
		}
	}

	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	logger.Op.WithFields(map[string]interface{}{
		"pipeline": p.Name,
		"tasks":    p.Registry.Len(),
		"edges":    len(p.Graph.Edges()),
		"targets":  len(p.Targets),
	}).Debug("Pipeline built")
	return p, nil
}
