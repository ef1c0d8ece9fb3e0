package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/bqflow/internal/config"
	"github.com/maxkimambo/bqflow/internal/dag"
	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/pipeline"
	"github.com/maxkimambo/bqflow/internal/utils"
)

type planOptions struct {
	pipelineFlags
	format string
}

func newPlanCmd() *cobra.Command {
	opts := &planOptions{}

	planCmd := &cobra.Command{
		Use:   "plan [pipeline]",
		Short: "Show the tasks of a pipeline and the order they run in",
		Long: `Build a pipeline without running it and print its tasks in dependency order.

Formats:
  table  tasks with kind, retries and upstream tasks (default)
  tree   tasks indented by depth
  json   nodes and edges
  dot    Graphviz source, e.g. bqflow plan -f dot | dot -Tpng > plan.png
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(args)
			if err != nil {
				return err
			}
			p, err := pipeline.BuildReporting(cfg)
			if err != nil {
				return err
			}
			out, err := renderPlan(p, opts.format)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	opts.pipelineFlags.register(planCmd)
	planCmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format: table, tree, json or dot")
	return planCmd
}

func renderPlan(p *pipeline.Pipeline, format string) (string, error) {
	viz := dag.NewGraphVisualization(p.Graph, nil)

	switch format {
	case "table":
		order, err := p.Graph.TopologicalOrder()
		if err != nil {
			return "", err
		}
		table := utils.NewTableFormatter("#", "TASK", "KIND", "RETRIES", "UPSTREAM")
		for i, name := range order {
			task, err := p.Registry.Lookup(name)
			if err != nil {
				return "", err
			}
			upstream, _ := p.Graph.Upstream(name)
			table.AddRow(strconv.Itoa(i+1), name, string(task.Kind), strconv.Itoa(task.Retries), strings.Join(upstream, ", "))
		}
		header := fmt.Sprintf("Pipeline %s: %d tasks, %d dependencies, %d targets\n",
			p.Name, p.Registry.Len(), len(p.Graph.Edges()), len(p.Targets))
		return header + table.String(), nil
	case "tree":
		return viz.GenerateTextSummary()
	case "json":
		info, err := p.Graph.Describe()
		if err != nil {
			return "", err
		}
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	case "dot":
		return viz.GenerateDOTGraph(p.Name)
	default:
		return "", pipelineErrors.NewInvalidConfigError("--format",
			fmt.Sprintf("unsupported format %q (use table, tree, json or dot)", format))
	}
}

func newPipelinesCmd() *cobra.Command {
	var configPath string

	pipelinesCmd := &cobra.Command{
		Use:   "pipelines",
		Short: "List the pipelines defined in a pipeline file or directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configs := map[string]pipeline.Config{}
			if configPath == "" {
				def := pipeline.DefaultConfig()
				configs[def.Name] = def
			} else {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				configs = loaded
			}

			table := utils.NewTableFormatter("PIPELINE", "PROJECT", "SOURCE", "TARGETS")
			for _, name := range config.Names(configs) {
				cfg := configs[name]
				table.AddRow(name, cfg.Project, cfg.SourceURI(), strconv.Itoa(len(cfg.Targets)))
			}
			fmt.Fprint(cmd.OutOrStdout(), table.String())
			return nil
		},
	}

	pipelinesCmd.Flags().StringVarP(&configPath, "config", "c", "", "HCL pipeline file or directory (default: built-in reporting pipeline)")
	return pipelinesCmd
}
