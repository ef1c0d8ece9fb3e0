package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/pipeline"
)

func TestLoad_File(t *testing.T) {
	configs, err := Load("testdata/reporting.hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{"load-reporting-data", "weekly-europe"}, Names(configs))

	reporting := configs["load-reporting-data"]
	expected := pipeline.DefaultConfig()
	assert.Equal(t, expected, reporting)

	weekly := configs["weekly-europe"]
	assert.Equal(t, "analytics-prod-01", weekly.Project)
	assert.Equal(t, "EU", weekly.Location)
	assert.Equal(t, []string{"France", "Italy", "United Kingdom"}, weekly.Targets)
	assert.Equal(t, 3, weekly.Retries)
	assert.Equal(t, 15*time.Minute, weekly.TaskTimeout)
	assert.Equal(t, "eu-health-drops", weekly.Bucket)
	assert.Equal(t, "weekly/health.csv", weekly.Object)
	assert.Equal(t, 10*time.Minute, weekly.SensorTimeout)
	assert.Equal(t, time.Minute, weekly.PokeInterval)
	assert.Equal(t, "eu_staging", weekly.StagingDataset)
	assert.Equal(t, "weekly_data", weekly.StagingTable)
	assert.Equal(t, "eu_transform", weekly.TransformDataset)
	assert.Equal(t, "eu_reporting", weekly.ReportingDataset)
	assert.Equal(t, int64(2), weekly.Load.SkipLeadingRows)
	assert.Equal(t, ";", weekly.Load.FieldDelimiter)
	assert.False(t, weekly.Load.Autodetect)
	assert.Equal(t, "WRITE_APPEND", weekly.Load.WriteDisposition)
	// untouched options keep their defaults
	assert.True(t, weekly.Load.AllowJaggedRows)

	for _, cfg := range configs {
		_, err := pipeline.BuildReporting(cfg)
		assert.NoError(t, err, cfg.Name)
	}
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(`pipeline "a" {}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(`pipeline "b" { targets = [] }`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte(`not hcl`), 0o644))

	configs, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, Names(configs))
	assert.Empty(t, configs["b"].Targets)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	dup := filepath.Join(dir, "dup.hcl")
	require.NoError(t, os.WriteFile(dup, []byte("pipeline \"x\" {}\npipeline \"x\" {}\n"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"Missing file", filepath.Join(dir, "missing.hcl")},
		{"Empty directory", t.TempDir()},
		{"Duplicate pipeline", dup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, pipelineErrors.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"Syntax error", `pipeline "x" {`},
		{"Unknown attribute", `pipeline "x" { color = "red" }`},
		{"Unknown block", `schedule "daily" {}`},
		{"Bad duration", `pipeline "x" { task_timeout = "soon" }`},
		{"Bad poke interval", `pipeline "x" { source { poke_interval = "often" } }`},
		{"Unknown load option", `pipeline "x" { staging { options = { compression = "GZIP" } } }`},
		{"Wrong option type", `pipeline "x" { staging { options = { autodetect = "sometimes" } } }`},
		{"Options not an object", `pipeline "x" { staging { options = "fast" } }`},
		{"Transform without dataset", `pipeline "x" { transform {} }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "test.hcl")
			require.Error(t, err)
			assert.True(t, errors.Is(err, pipelineErrors.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestParse_OptionConversion(t *testing.T) {
	configs, err := Parse([]byte(`
pipeline "x" {
  staging {
    options = {
      skip_leading_rows = "3"
      allow_jagged_rows = "false"
    }
  }
}`), "test.hcl")
	require.NoError(t, err)

	cfg := configs["x"]
	assert.Equal(t, int64(3), cfg.Load.SkipLeadingRows)
	assert.False(t, cfg.Load.AllowJaggedRows)
}

func TestLoadPipeline(t *testing.T) {
	cfg, err := LoadPipeline("testdata/reporting.hcl", "weekly-europe")
	require.NoError(t, err)
	assert.Equal(t, "weekly-europe", cfg.Name)

	_, err = LoadPipeline("testdata/reporting.hcl", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load-reporting-data")
}
