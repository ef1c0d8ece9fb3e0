package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// StatusLookup returns the display status of a task, or "" when unknown
type StatusLookup func(name string) string

// GraphVisualization renders a graph, optionally overlaid with run status
type GraphVisualization struct {
	graph  *Graph
	status StatusLookup
}

// NewGraphVisualization creates a new visualization helper. status may be nil.
func NewGraphVisualization(graph *Graph, status StatusLookup) *GraphVisualization {
	return &GraphVisualization{
		graph:  graph,
		status: status,
	}
}

// NodeInfo contains information about a node for visualization
type NodeInfo struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Retries     int      `json:"retries"`
	Level       int      `json:"level"`
	Upstream    []string `json:"upstream,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// GraphInfo contains the full graph structure for visualization
type GraphInfo struct {
	Nodes []NodeInfo `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// GenerateGraphInfo lists nodes in topological order with their level, the
// length of the longest upstream chain leading to them
func (v *GraphVisualization) GenerateGraphInfo() (*GraphInfo, error) {
	order, err := v.graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	levels := make(map[string]int, len(order))
	nodes := make([]NodeInfo, 0, len(order))
	for _, name := range order {
		task, err := v.graph.Registry().Lookup(name)
		if err != nil {
			return nil, err
		}
		upstream, err := v.graph.Upstream(name)
		if err != nil {
			return nil, err
		}

		level := 0
		for _, up := range upstream {
			if levels[up]+1 > level {
				level = levels[up] + 1
			}
		}
		levels[name] = level

		info := NodeInfo{
			Name:        name,
			Kind:        string(task.Kind),
			Description: task.Description,
			Retries:     task.Retries,
			Level:       level,
			Upstream:    upstream,
		}
		if v.status != nil {
			info.Status = v.status(name)
		}
		nodes = append(nodes, info)
	}

	return &GraphInfo{
		Nodes: nodes,
		Edges: v.graph.Edges(),
	}, nil
}

// Describe lists the nodes and edges of the graph in topological order
func (g *Graph) Describe() (*GraphInfo, error) {
	return NewGraphVisualization(g, nil).GenerateGraphInfo()
}

// GenerateJSON returns the graph as indented JSON
func (v *GraphVisualization) GenerateJSON() ([]byte, error) {
	info, err := v.GenerateGraphInfo()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(info, "", "  ")
}

// ExportToJSON exports the graph visualization to a JSON file
func (v *GraphVisualization) ExportToJSON(filename string) error {
	data, err := v.GenerateJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// GenerateDOTGraph creates a DOT format graph for visualization with Graphviz
func (v *GraphVisualization) GenerateDOTGraph(title string) (string, error) {
	info, err := v.GenerateGraphInfo()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("digraph Pipeline {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=filled];\n")
	sb.WriteString(fmt.Sprintf("  label=%q;\n", title))
	sb.WriteString("  labelloc=\"t\";\n\n")

	for _, node := range info.Nodes {
		label := fmt.Sprintf("%s\\n%s", node.Name, node.Kind)
		if node.Status != "" {
			label += fmt.Sprintf("\\n%s", node.Status)
		}
		sb.WriteString(fmt.Sprintf("  %q [label=\"%s\", fillcolor=%q];\n", node.Name, label, statusColor(node.Status)))
	}

	sb.WriteString("\n")
	for _, edge := range info.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q;\n", edge.From, edge.To))
	}
	sb.WriteString("}\n")

	return sb.String(), nil
}

func statusColor(status string) string {
	switch status {
	case "running":
		return "lightblue"
	case "success":
		return "lightgreen"
	case "failed":
		return "salmon"
	case "skipped":
		return "orange"
	case "pending":
		return "lightgrey"
	default:
		return "white"
	}
}

// GenerateTextSummary renders one line per task, indented by level
func (v *GraphVisualization) GenerateTextSummary() (string, error) {
	info, err := v.GenerateGraphInfo()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d tasks, %d dependencies\n", len(info.Nodes), len(info.Edges)))
	for _, node := range info.Nodes {
		sb.WriteString(strings.Repeat("  ", node.Level))
		sb.WriteString(fmt.Sprintf("- %s (%s)", node.Name, node.Kind))
		if node.Status != "" {
			sb.WriteString(fmt.Sprintf(" [%s]", node.Status))
		}
		if len(node.Upstream) > 0 {
			sb.WriteString(fmt.Sprintf(" <- %s", strings.Join(node.Upstream, ", ")))
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
