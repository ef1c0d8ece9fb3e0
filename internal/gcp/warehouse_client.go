package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/logger"
)

const jobStateDone = "DONE"

// TableRef identifies a BigQuery table or view
type TableRef struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

func (t TableRef) String() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}

// LoadOptions mirror the CSV knobs of a BigQuery load job
type LoadOptions struct {
	SkipLeadingRows     int64  `json:"skip_leading_rows"`
	FieldDelimiter      string `json:"field_delimiter"`
	AllowJaggedRows     bool   `json:"allow_jagged_rows"`
	IgnoreUnknownValues bool   `json:"ignore_unknown_values"`
	Autodetect          bool   `json:"autodetect"`
	WriteDisposition    string `json:"write_disposition"`
}

// LoadRequest describes a bulk load from Cloud Storage into a table
type LoadRequest struct {
	SourceURIs  []string
	Destination TableRef
	Format      string
	Options     LoadOptions
	Labels      map[string]string
}

// QueryRequest is a standard SQL statement to run as a job
type QueryRequest struct {
	SQL    string
	Labels map[string]string
}

// JobResult summarizes a finished BigQuery job
type JobResult struct {
	JobID          string        `json:"job_id"`
	Location       string        `json:"location"`
	OutputRows     int64         `json:"output_rows,omitempty"`
	AffectedRows   int64         `json:"affected_rows,omitempty"`
	BytesProcessed int64         `json:"bytes_processed,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// WarehouseClientInterface runs load and query jobs to completion
type WarehouseClientInterface interface {
	// Load inserts a load job and waits until it is done
	Load(ctx context.Context, req LoadRequest) (*JobResult, error)
	// Query inserts a query job and waits until it is done
	Query(ctx context.Context, req QueryRequest) (*JobResult, error)
}

type WarehouseClient struct {
	service     *bigquery.Service
	project     string
	location    string
	pollBackoff gax.Backoff
}

func NewWarehouseClient(service *bigquery.Service, project, location string) *WarehouseClient {
	return &WarehouseClient{
		service:  service,
		project:  project,
		location: location,
		pollBackoff: gax.Backoff{
			Initial:    time.Second,
			Max:        10 * time.Second,
			Multiplier: 1.5,
		},
	}
}

func (wc *WarehouseClient) Load(ctx context.Context, req LoadRequest) (*JobResult, error) {
	if len(req.SourceURIs) == 0 {
		return nil, pipelineErrors.NewInvalidConfigError("source_uris", "at least one source URI is required")
	}

	format := req.Format
	if format == "" {
		format = "CSV"
	}

	job := &bigquery.Job{
		Configuration: &bigquery.JobConfiguration{
			Labels: req.Labels,
			Load: &bigquery.JobConfigurationLoad{
				SourceUris: req.SourceURIs,
				DestinationTable: &bigquery.TableReference{
					ProjectId: req.Destination.Project,
					DatasetId: req.Destination.Dataset,
					TableId:   req.Destination.Table,
				},
				SourceFormat:        format,
				SkipLeadingRows:     req.Options.SkipLeadingRows,
				FieldDelimiter:      req.Options.FieldDelimiter,
				AllowJaggedRows:     req.Options.AllowJaggedRows,
				IgnoreUnknownValues: req.Options.IgnoreUnknownValues,
				Autodetect:          req.Options.Autodetect,
				WriteDisposition:    req.Options.WriteDisposition,
			},
		},
	}

	logger.Op.WithFields(map[string]interface{}{
		"sources":     strings.Join(req.SourceURIs, ","),
		"destination": req.Destination.String(),
		"format":      format,
	}).Info("Submitting load job")

	done, result, err := wc.runJob(ctx, job, "BigQuery load job")
	if err != nil {
		return nil, err
	}
	if done.Statistics != nil && done.Statistics.Load != nil {
		result.OutputRows = done.Statistics.Load.OutputRows
	}
	return result, nil
}

func (wc *WarehouseClient) Query(ctx context.Context, req QueryRequest) (*JobResult, error) {
	if strings.TrimSpace(req.SQL) == "" {
		return nil, pipelineErrors.NewInvalidConfigError("sql", "statement is empty")
	}

	job := &bigquery.Job{
		Configuration: &bigquery.JobConfiguration{
			Labels: req.Labels,
			Query: &bigquery.JobConfigurationQuery{
				Query:        req.SQL,
				UseLegacySql: googleapi.Bool(false),
			},
		},
	}

	logger.Op.WithFields(map[string]interface{}{
		"sql": req.SQL,
	}).Debug("Submitting query job")

	done, result, err := wc.runJob(ctx, job, "BigQuery query job")
	if err != nil {
		return nil, err
	}
	if stats := done.Statistics; stats != nil {
		result.BytesProcessed = stats.TotalBytesProcessed
		if stats.Query != nil {
			result.AffectedRows = stats.Query.NumDmlAffectedRows
			if stats.Query.TotalBytesProcessed > 0 {
				result.BytesProcessed = stats.Query.TotalBytesProcessed
			}
		}
	}
	return result, nil
}

// runJob inserts job and polls jobs.get until the job is DONE
func (wc *WarehouseClient) runJob(ctx context.Context, job *bigquery.Job, operation string) (*bigquery.Job, *JobResult, error) {
	started := time.Now()
	job.JobReference = &bigquery.JobReference{
		ProjectId: wc.project,
		JobId:     newJobID(),
		Location:  wc.location,
	}

	current, err := wc.service.Jobs.Insert(wc.project, job).Context(ctx).Do()
	if err != nil {
		return nil, nil, pipelineErrors.NewCloudAPIError(operation, err).
			WithContext("job_id", job.JobReference.JobId)
	}

	jobID, location := job.JobReference.JobId, wc.location
	if ref := current.JobReference; ref != nil {
		if ref.JobId != "" {
			jobID = ref.JobId
		}
		if ref.Location != "" {
			location = ref.Location
		}
	}
	logFields := map[string]interface{}{
		"jobID":    jobID,
		"location": location,
	}
	logger.Op.WithFields(logFields).Debug("Job inserted, waiting for completion")

	bo := wc.pollBackoff
	for !isDone(current) {
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			return nil, nil, err
		}
		call := wc.service.Jobs.Get(wc.project, jobID).Context(ctx)
		if location != "" {
			call = call.Location(location)
		}
		current, err = call.Do()
		if err != nil {
			return nil, nil, pipelineErrors.NewCloudAPIError(operation, err).
				WithContext("job_id", jobID)
		}
	}

	if jobErr := jobError(current); jobErr != nil {
		logger.Op.WithFields(logFields).WithError(jobErr).Error("Job finished with error")
		return nil, nil, pipelineErrors.NewCloudAPIError(operation, jobErr).
			WithContext("job_id", jobID)
	}

	result := &JobResult{
		JobID:    jobID,
		Location: location,
		Duration: time.Since(started),
	}
	logger.Op.WithFields(logFields).Info("Job completed")
	return current, result, nil
}

func isDone(job *bigquery.Job) bool {
	return job != nil && job.Status != nil && job.Status.State == jobStateDone
}

func jobError(job *bigquery.Job) error {
	if job.Status == nil || job.Status.ErrorResult == nil {
		return nil
	}
	e := job.Status.ErrorResult
	if e.Location != "" {
		return fmt.Errorf("%s: %s (at %s)", e.Reason, e.Message, e.Location)
	}
	return fmt.Errorf("%s: %s", e.Reason, e.Message)
}

func newJobID() string {
	return "bqflow_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
