package operator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/gcp"
	"github.com/maxkimambo/bqflow/internal/registry"
)

// Parameter keys understood by the operators
const (
	ParamBucket       = "bucket"
	ParamObject       = "object"
	ParamPokeInterval = "poke_interval"

	ParamSourceURIs          = "source_uris"
	ParamDestination         = "destination"
	ParamSourceFormat        = "source_format"
	ParamSkipLeadingRows     = "skip_leading_rows"
	ParamFieldDelimiter      = "field_delimiter"
	ParamAllowJaggedRows     = "allow_jagged_rows"
	ParamIgnoreUnknownValues = "ignore_unknown_values"
	ParamAutodetect          = "autodetect"
	ParamWriteDisposition    = "write_disposition"

	ParamSQL = "sql"
)

const defaultPokeInterval = 30 * time.Second

func required(task *registry.Task, key string) (string, error) {
	v := task.Param(key)
	if v == "" {
		return "", pipelineErrors.NewInvalidConfigError(task.Name+"."+key, "parameter is required")
	}
	return v, nil
}

func durationParam(task *registry.Task, key string, fallback time.Duration) (time.Duration, error) {
	v := task.Param(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, pipelineErrors.NewInvalidConfigError(task.Name+"."+key, fmt.Sprintf("%q is not a positive duration", v))
	}
	return d, nil
}

func boolParam(task *registry.Task, key string) (bool, error) {
	v := task.Param(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, pipelineErrors.NewInvalidConfigError(task.Name+"."+key, fmt.Sprintf("%q is not a boolean", v))
	}
	return b, nil
}

func intParam(task *registry.Task, key string) (int64, error) {
	v := task.Param(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, pipelineErrors.NewInvalidConfigError(task.Name+"."+key, fmt.Sprintf("%q is not a non-negative integer", v))
	}
	return n, nil
}

// ParseTableRef parses project.dataset.table
func ParseTableRef(s string) (gcp.TableRef, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return gcp.TableRef{}, fmt.Errorf("table reference %q must be project.dataset.table", s)
	}
	return gcp.TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
}
