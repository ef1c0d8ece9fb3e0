package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/gcp"
)

// Config describes the reporting pipeline: where the CSV lands, where it is
// staged, and which targets get a transform table and reporting view.
type Config struct {
	Name             string
	Project          string
	Location         string
	Bucket           string
	Object           string
	StagingDataset   string
	StagingTable     string
	TransformDataset string
	ReportingDataset string
	Targets          []string

	SensorTimeout time.Duration
	PokeInterval  time.Duration
	Retries       int
	// TaskTimeout bounds load and statement attempts. Zero uses the executor default.
	TaskTimeout time.Duration

	SourceFormat string
	Load         gcp.LoadOptions
}

// DefaultConfig returns the reporting pipeline as it runs in production
func DefaultConfig() Config {
	return Config{
		Name:             "load-reporting-data",
		Project:          "wired-effect-467812-k2",
		Location:         "US",
		Bucket:           "global-data-storage",
		Object:           "global_health_data.csv",
		StagingDataset:   "stagingdataset",
		StagingTable:     "global_data",
		TransformDataset: "transformdataset",
		ReportingDataset: "reportingdataset",
		Targets:          []string{"Canada", "France", "USA", "India", "Italy", "Japan"},
		SensorTimeout:    300 * time.Second,
		PokeInterval:     30 * time.Second,
		Retries:          1,
		SourceFormat:     "CSV",
		Load: gcp.LoadOptions{
			SkipLeadingRows:     1,
			FieldDelimiter:      ",",
			AllowJaggedRows:     true,
			IgnoreUnknownValues: true,
			Autodetect:          true,
			WriteDisposition:    "WRITE_TRUNCATE",
		},
	}
}

var (
	projectPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
	datasetPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// BigQuery caps dataset and table ids at 1024 characters
const maxDatasetIDLength = 1024

var writeDispositions = map[string]bool{
	"":               true,
	"WRITE_TRUNCATE": true,
	"WRITE_APPEND":   true,
	"WRITE_EMPTY":    true,
}

// Validate checks the configuration before any task is registered
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return pipelineErrors.NewInvalidConfigError("name", "pipeline name is required")
	}
	if !projectPattern.MatchString(c.Project) {
		return pipelineErrors.NewInvalidConfigError("project", fmt.Sprintf("%q is not a valid project id", c.Project))
	}
	if c.Bucket == "" {
		return pipelineErrors.NewInvalidConfigError("bucket", "bucket is required")
	}
	if c.Object == "" {
		return pipelineErrors.NewInvalidConfigError("object", "object is required")
	}

	for _, id := range []struct{ field, value string }{
		{"staging_dataset", c.StagingDataset},
		{"staging_table", c.StagingTable},
		{"transform_dataset", c.TransformDataset},
		{"reporting_dataset", c.ReportingDataset},
	} {
		if !datasetPattern.MatchString(id.value) {
			return pipelineErrors.NewInvalidConfigError(id.field, fmt.Sprintf("%q must contain only letters, numbers and underscores", id.value))
		}
		if len(id.value) > maxDatasetIDLength {
			return pipelineErrors.NewInvalidConfigError(id.field, fmt.Sprintf("must be at most %d characters", maxDatasetIDLength))
		}
	}

	for _, target := range c.Targets {
		if NormalizeTarget(target) == "" {
			return pipelineErrors.NewInvalidConfigError("targets", fmt.Sprintf("target %q is empty after normalization", target))
		}
	}

	if c.SensorTimeout <= 0 {
		return pipelineErrors.NewInvalidConfigError("sensor_timeout", "must be positive")
	}
	if c.PokeInterval <= 0 || c.PokeInterval > c.SensorTimeout {
		return pipelineErrors.NewInvalidConfigError("poke_interval", "must be positive and no longer than the sensor timeout")
	}
	if c.Retries < 0 {
		return pipelineErrors.NewInvalidConfigError("retries", "must be >= 0")
	}
	if c.TaskTimeout < 0 {
		return pipelineErrors.NewInvalidConfigError("task_timeout", "must be >= 0")
	}
	if !writeDispositions[c.Load.WriteDisposition] {
		return pipelineErrors.NewInvalidConfigError("write_disposition", fmt.Sprintf("unsupported value %q", c.Load.WriteDisposition))
	}
	if len([]rune(c.Load.FieldDelimiter)) > 1 {
		return pipelineErrors.NewInvalidConfigError("field_delimiter", "must be a single character")
	}
	return nil
}

// StagingRef is the table the CSV is loaded into
func (c Config) StagingRef() gcp.TableRef {
	return gcp.TableRef{Project: c.Project, Dataset: c.StagingDataset, Table: c.StagingTable}
}

// SourceURI is the gs:// URI of the watched object
func (c Config) SourceURI() string {
	return fmt.Sprintf("gs://%s/%s", c.Bucket, c.Object)
}
