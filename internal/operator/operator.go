package operator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/googleapis/gax-go/v2"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/executor"
	"github.com/maxkimambo/bqflow/internal/gcp"
	"github.com/maxkimambo/bqflow/internal/logger"
	"github.com/maxkimambo/bqflow/internal/registry"
)

// Dispatcher routes a task to the collaborator for its kind
type Dispatcher struct {
	objects   gcp.ObjectClientInterface
	warehouse gcp.WarehouseClientInterface
	labels    map[string]string
}

var _ executor.Operator = (*Dispatcher)(nil)

func NewDispatcher(objects gcp.ObjectClientInterface, warehouse gcp.WarehouseClientInterface) *Dispatcher {
	return &Dispatcher{objects: objects, warehouse: warehouse}
}

// NewDispatcherFromClients wires a dispatcher to live API clients
func NewDispatcherFromClients(clients *gcp.Clients) *Dispatcher {
	return NewDispatcher(clients.Objects, clients.Warehouse)
}

// WithLabels attaches labels to every BigQuery job the dispatcher submits
func (d *Dispatcher) WithLabels(labels map[string]string) *Dispatcher {
	d.labels = labels
	return d
}

// jobLabels returns the configured labels plus the task label
func (d *Dispatcher) jobLabels(task *registry.Task) map[string]string {
	labels := make(map[string]string, len(d.labels)+1)
	for k, v := range d.labels {
		labels[k] = v
	}
	labels["bqflow_task"] = labelValue(task.Name)
	return labels
}

func (d *Dispatcher) Execute(ctx context.Context, task *registry.Task) (*executor.TaskOutput, error) {
	switch task.Kind {
	case registry.KindSense:
		return d.sense(ctx, task)
	case registry.KindBulkLoad:
		return d.load(ctx, task)
	case registry.KindExecuteStatement:
		return d.query(ctx, task)
	default:
		return nil, pipelineErrors.NewInvalidConfigError(task.Name+".kind", fmt.Sprintf("no operator for kind %q", task.Kind))
	}
}

// sense pokes the object store until the object appears. The deadline comes
// from the task timeout enforced by the executor.
func (d *Dispatcher) sense(ctx context.Context, task *registry.Task) (*executor.TaskOutput, error) {
	bucket, err := required(task, ParamBucket)
	if err != nil {
		return nil, err
	}
	object, err := required(task, ParamObject)
	if err != nil {
		return nil, err
	}
	interval, err := durationParam(task, ParamPokeInterval, defaultPokeInterval)
	if err != nil {
		return nil, err
	}

	uri := fmt.Sprintf("gs://%s/%s", bucket, object)
	logger.User.Sensef("Waiting for %s", uri)

	for pokes := 1; ; pokes++ {
		exists, err := d.objects.ObjectExists(ctx, bucket, object)
		if err != nil {
			return nil, err
		}
		if exists {
			logger.User.Successf("Found %s", uri)
			return &executor.TaskOutput{Metadata: map[string]string{
				"uri":   uri,
				"pokes": strconv.Itoa(pokes),
			}}, nil
		}

		logger.Op.WithFields(map[string]interface{}{
			"task":     task.Name,
			"uri":      uri,
			"poke":     pokes,
			"interval": interval.String(),
		}).Debug("Object not found, poking again")

		if err := gax.Sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func (d *Dispatcher) load(ctx context.Context, task *registry.Task) (*executor.TaskOutput, error) {
	req, err := loadRequest(task)
	if err != nil {
		return nil, err
	}
	req.Labels = d.jobLabels(task)

	logger.User.Loadf("Loading %s into %s", strings.Join(req.SourceURIs, ", "), req.Destination)
	result, err := d.warehouse.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.User.Successf("Loaded %d rows into %s", result.OutputRows, req.Destination)

	return &executor.TaskOutput{Metadata: map[string]string{
		"job_id":      result.JobID,
		"destination": req.Destination.String(),
		"output_rows": strconv.FormatInt(result.OutputRows, 10),
	}}, nil
}

func loadRequest(task *registry.Task) (gcp.LoadRequest, error) {
	var req gcp.LoadRequest

	sources, err := required(task, ParamSourceURIs)
	if err != nil {
		return req, err
	}
	for _, uri := range strings.Split(sources, ",") {
		if uri = strings.TrimSpace(uri); uri != "" {
			req.SourceURIs = append(req.SourceURIs, uri)
		}
	}

	dest, err := required(task, ParamDestination)
	if err != nil {
		return req, err
	}
	if req.Destination, err = ParseTableRef(dest); err != nil {
		return req, pipelineErrors.NewInvalidConfigError(task.Name+"."+ParamDestination, err.Error())
	}

	req.Format = task.Param(ParamSourceFormat)
	req.Options.FieldDelimiter = task.Param(ParamFieldDelimiter)
	req.Options.WriteDisposition = task.Param(ParamWriteDisposition)
	if req.Options.SkipLeadingRows, err = intParam(task, ParamSkipLeadingRows); err != nil {
		return req, err
	}
	if req.Options.AllowJaggedRows, err = boolParam(task, ParamAllowJaggedRows); err != nil {
		return req, err
	}
	if req.Options.IgnoreUnknownValues, err = boolParam(task, ParamIgnoreUnknownValues); err != nil {
		return req, err
	}
	if req.Options.Autodetect, err = boolParam(task, ParamAutodetect); err != nil {
		return req, err
	}
	return req, nil
}

func (d *Dispatcher) query(ctx context.Context, task *registry.Task) (*executor.TaskOutput, error) {
	sql, err := required(task, ParamSQL)
	if err != nil {
		return nil, err
	}

	logger.User.Queryf("Running %s", task.Name)
	result, err := d.warehouse.Query(ctx, gcp.QueryRequest{
		SQL:    sql,
		Labels: d.jobLabels(task),
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		"job_id":          result.JobID,
		"affected_rows":   strconv.FormatInt(result.AffectedRows, 10),
		"bytes_processed": strconv.FormatInt(result.BytesProcessed, 10),
	}
	if dest := task.Param(ParamDestination); dest != "" {
		meta["destination"] = dest
	}
	logger.User.Successf("%s finished (job %s)", task.Name, result.JobID)
	return &executor.TaskOutput{Metadata: meta}, nil
}

// labelValue maps s onto BigQuery's label value charset and length
func labelValue(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, s)
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}
