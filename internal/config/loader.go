// Package config loads pipeline definitions from HCL files.
//
// A file holds one or more pipeline blocks. Every attribute is optional and
// falls back to the production reporting pipeline defaults.
//
//	pipeline "load-reporting-data" {
//	  project = "wired-effect-467812-k2"
//	  targets = ["Canada", "France"]
//
//	  source {
//	    bucket        = "global-data-storage"
//	    object        = "global_health_data.csv"
//	    poke_interval = "30s"
//	  }
//
//	  staging {
//	    dataset = "stagingdataset"
//	    options = { skip_leading_rows = 1, autodetect = true }
//	  }
//	}
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/logger"
	"github.com/maxkimambo/bqflow/internal/pipeline"
)

type fileRoot struct {
	Pipelines []*hclPipeline `hcl:"pipeline,block"`
}

type hclPipeline struct {
	Name        string      `hcl:"name,label"`
	Project     *string     `hcl:"project,optional"`
	Location    *string     `hcl:"location,optional"`
	Targets     *[]string   `hcl:"targets,optional"`
	Retries     *int        `hcl:"retries,optional"`
	TaskTimeout *string     `hcl:"task_timeout,optional"`
	Source      *hclSource  `hcl:"source,block"`
	Staging     *hclStaging `hcl:"staging,block"`
	Transform   *hclDataset `hcl:"transform,block"`
	Reporting   *hclDataset `hcl:"reporting,block"`
}

type hclSource struct {
	Bucket        *string `hcl:"bucket,optional"`
	Object        *string `hcl:"object,optional"`
	SensorTimeout *string `hcl:"sensor_timeout,optional"`
	PokeInterval  *string `hcl:"poke_interval,optional"`
}

type hclStaging struct {
	Dataset *string   `hcl:"dataset,optional"`
	Table   *string   `hcl:"table,optional"`
	Format  *string   `hcl:"format,optional"`
	Options cty.Value `hcl:"options,optional"`
}

type hclDataset struct {
	Dataset string `hcl:"dataset"`
}

// Load reads a pipeline file, or every *.hcl file in a directory, and returns
// the pipelines keyed by name
func Load(path string) (map[string]pipeline.Config, error) {
	files, err := findHCLFiles(path)
	if err != nil {
		return nil, err
	}

	parser := hclparse.NewParser()
	configs := make(map[string]pipeline.Config)
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, pipelineErrors.NewInvalidConfigError(file, diags.Error())
		}
		if err := decodeInto(configs, hclFile.Body, file); err != nil {
			return nil, err
		}
	}

	logger.Op.WithFields(map[string]interface{}{
		"path":      path,
		"files":     len(files),
		"pipelines": len(configs),
	}).Debug("Loaded pipeline definitions")
	return configs, nil
}

// Parse decodes pipeline definitions from src. filename is used in diagnostics.
func Parse(src []byte, filename string) (map[string]pipeline.Config, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, pipelineErrors.NewInvalidConfigError(filename, diags.Error())
	}
	configs := make(map[string]pipeline.Config)
	if err := decodeInto(configs, hclFile.Body, filename); err != nil {
		return nil, err
	}
	return configs, nil
}

// LoadPipeline returns the named pipeline from path
func LoadPipeline(path, name string) (pipeline.Config, error) {
	configs, err := Load(path)
	if err != nil {
		return pipeline.Config{}, err
	}
	cfg, ok := configs[name]
	if !ok {
		return pipeline.Config{}, pipelineErrors.NewInvalidConfigError("pipeline",
			fmt.Sprintf("no pipeline named %q in %s (available: %v)", name, path, Names(configs)))
	}
	return cfg, nil
}

// Names returns the pipeline names in sorted order
func Names(configs map[string]pipeline.Config) []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeInto(configs map[string]pipeline.Config, body hcl.Body, filename string) error {
	var root fileRoot
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return pipelineErrors.NewInvalidConfigError(filename, diags.Error())
	}

	for _, block := range root.Pipelines {
		if _, exists := configs[block.Name]; exists {
			return pipelineErrors.NewInvalidConfigError("pipeline",
				fmt.Sprintf("pipeline %q is defined more than once", block.Name))
		}
		cfg, err := block.toConfig()
		if err != nil {
			return err
		}
		configs[block.Name] = cfg
	}
	return nil
}

func (p *hclPipeline) toConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	cfg.Name = p.Name

	setString(&cfg.Project, p.Project)
	setString(&cfg.Location, p.Location)
	if p.Targets != nil {
		cfg.Targets = append([]string(nil), (*p.Targets)...)
	}
	if p.Retries != nil {
		cfg.Retries = *p.Retries
	}
	if err := setDuration(&cfg.TaskTimeout, p.TaskTimeout, "task_timeout"); err != nil {
		return cfg, err
	}

	if s := p.Source; s != nil {
		setString(&cfg.Bucket, s.Bucket)
		setString(&cfg.Object, s.Object)
		if err := setDuration(&cfg.SensorTimeout, s.SensorTimeout, "source.sensor_timeout"); err != nil {
			return cfg, err
		}
		if err := setDuration(&cfg.PokeInterval, s.PokeInterval, "source.poke_interval"); err != nil {
			return cfg, err
		}
	}

	if s := p.Staging; s != nil {
		setString(&cfg.StagingDataset, s.Dataset)
		setString(&cfg.StagingTable, s.Table)
		setString(&cfg.SourceFormat, s.Format)
		if err := applyLoadOptions(&cfg.Load, s.Options); err != nil {
			return cfg, err
		}
	}
	if p.Transform != nil {
		cfg.TransformDataset = p.Transform.Dataset
	}
	if p.Reporting != nil {
		cfg.ReportingDataset = p.Reporting.Dataset
	}

	return cfg, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, field string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return pipelineErrors.NewInvalidConfigError(field, fmt.Sprintf("%q is not a duration", *v))
	}
	*dst = d
	return nil
}

func findHCLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, pipelineErrors.NewInvalidConfigError("config", err.Error())
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	files, err := filepath.Glob(filepath.Join(path, "*.hcl"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, pipelineErrors.NewInvalidConfigError("config", fmt.Sprintf("no .hcl files in %s", path))
	}
	sort.Strings(files)
	return files, nil
}
