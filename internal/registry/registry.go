// Package registry holds the named units of work that make up a pipeline.
// Tasks are immutable once registered.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
)

// Kind is the operation a task performs
type Kind string

const (
	// KindSense waits for an external condition, e.g. an object landing in a bucket
	KindSense Kind = "sense"
	// KindBulkLoad loads files from object storage into a warehouse table
	KindBulkLoad Kind = "bulk_load"
	// KindExecuteStatement submits a SQL statement to the warehouse
	KindExecuteStatement Kind = "execute_statement"
)

// Valid reports whether k is a known operation kind
func (k Kind) Valid() bool {
	switch k {
	case KindSense, KindBulkLoad, KindExecuteStatement:
		return true
	default:
		return false
	}
}

// Task is a single unit of work
type Task struct {
	Name        string
	Kind        Kind
	Params      map[string]string
	Retries     int
	Timeout     time.Duration
	Description string
}

// Param returns the named parameter or an empty string
func (t *Task) Param(key string) string {
	return t.Params[key]
}

// TaskOption customizes a task at registration time
type TaskOption func(*Task)

// WithTimeout sets the per-attempt timeout. Zero means the executor default.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *Task) {
		t.Timeout = d
	}
}

// WithDescription sets a human-readable description
func WithDescription(desc string) TaskOption {
	return func(t *Task) {
		t.Description = desc
	}
}

// Registry holds all tasks of a pipeline keyed by name
type Registry struct {
	tasks map[string]*Task
	mutex sync.RWMutex
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
	}
}

// Register adds a task. It fails with a duplicate-name error if the name is
// taken. Params are copied so later changes by the caller are not observed.
func (r *Registry) Register(name string, kind Kind, params map[string]string, retries int, opts ...TaskOption) (*Task, error) {
	if name == "" {
		return nil, pipelineErrors.NewInvalidConfigError("task name", "must not be empty")
	}
	if !kind.Valid() {
		return nil, pipelineErrors.NewInvalidConfigError("task kind", fmt.Sprintf("unknown kind %q for task %s", kind, name))
	}
	if retries < 0 {
		return nil, pipelineErrors.NewInvalidConfigError("retries", fmt.Sprintf("must be >= 0 for task %s, got %d", name, retries))
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.tasks[name]; exists {
		return nil, pipelineErrors.NewDuplicateNameError(name)
	}

	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}

	task := &Task{
		Name:    name,
		Kind:    kind,
		Params:  copied,
		Retries: retries,
	}
	for _, opt := range opts {
		opt(task)
	}

	r.tasks[name] = task
	return task, nil
}

// Lookup returns the task registered under name
func (r *Registry) Lookup(name string) (*Task, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	task, exists := r.tasks[name]
	if !exists {
		return nil, pipelineErrors.NewNotFoundError(name, "Task lookup")
	}
	return task, nil
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, exists := r.tasks[name]
	return exists
}

// Names returns all registered task names in sorted order
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tasks
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.tasks)
}
