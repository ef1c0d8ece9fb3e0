package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/bqflow/internal/config"
	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/logger"
	"github.com/maxkimambo/bqflow/internal/pipeline"
)

const defaultStateDB = "bqflow.db"

// pipelineFlags select a pipeline definition and override parts of it
type pipelineFlags struct {
	configPath string
	project    string
	targets    []string
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "HCL pipeline file or directory (default: built-in reporting pipeline)")
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "Override the Google Cloud project of the pipeline")
	cmd.Flags().StringSliceVar(&f.targets, "targets", nil, "Override the targets (comma-separated)")
}

// resolve returns the pipeline named by args, or the only pipeline available
// when args is empty, with flag overrides applied
func (f *pipelineFlags) resolve(args []string) (pipeline.Config, error) {
	var name string
	if len(args) > 0 {
		name = args[0]
	}

	var cfg pipeline.Config
	switch {
	case f.configPath == "":
		cfg = pipeline.DefaultConfig()
		if name != "" && name != cfg.Name {
			return cfg, pipelineErrors.NewInvalidConfigError("pipeline",
				fmt.Sprintf("unknown pipeline %q; use --config to load pipeline files", name))
		}
	case name != "":
		loaded, err := config.LoadPipeline(f.configPath, name)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	default:
		configs, err := config.Load(f.configPath)
		if err != nil {
			return cfg, err
		}
		names := config.Names(configs)
		if len(names) != 1 {
			return cfg, pipelineErrors.NewInvalidConfigError("pipeline",
				fmt.Sprintf("%s defines %d pipelines, name one of: %s", f.configPath, len(names), strings.Join(names, ", ")))
		}
		cfg = configs[names[0]]
	}

	if f.project != "" {
		cfg.Project = f.project
	}
	if len(f.targets) > 0 {
		targets := make([]string, 0, len(f.targets))
		for _, t := range f.targets {
			if t = strings.TrimSpace(t); t != "" {
				targets = append(targets, t)
			}
		}
		cfg.Targets = targets
	}

	logger.Op.WithFields(map[string]interface{}{
		"pipeline": cfg.Name,
		"project":  cfg.Project,
		"targets":  strings.Join(cfg.Targets, ","),
	}).Debug("Resolved pipeline configuration")
	return cfg, nil
}
