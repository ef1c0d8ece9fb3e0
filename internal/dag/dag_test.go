package dag

import (
	"fmt"
	"math/rand"
	"testing"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/maxkimambo/bqflow/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, names ...string) *Graph {
	t.Helper()
	reg := registry.New()
	for _, name := range names {
		_, err := reg.Register(name, registry.KindExecuteStatement, nil, 0)
		require.NoError(t, err)
	}
	return NewGraph(reg)
}

func TestGraph_AddEdge(t *testing.T) {
	g := newTestGraph(t, "load", "transform_a", "view_a")

	require.NoError(t, g.AddEdge("load", "transform_a"))
	require.NoError(t, g.AddEdge("transform_a", "view_a"))

	up, err := g.Upstream("view_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"transform_a"}, up)

	down, err := g.Downstream("load")
	require.NoError(t, err)
	assert.Equal(t, []string{"transform_a"}, down)

	assert.Len(t, g.Edges(), 2)
}

func TestGraph_AddEdgeDuplicateIsNoop(t *testing.T) {
	g := newTestGraph(t, "a", "b")

	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Len(t, g.Edges(), 1)
}

func TestGraph_AddEdgeUnknownEndpoint(t *testing.T) {
	g := newTestGraph(t, "a")

	err := g.AddEdge("a", "missing")
	assert.ErrorIs(t, err, pipelineErrors.ErrNotFound)

	err = g.AddEdge("missing", "a")
	assert.ErrorIs(t, err, pipelineErrors.ErrNotFound)
}

func TestGraph_AddEdgeRejectsCycles(t *testing.T) {
	tests := []struct {
		name    string
		edges   [][2]string
		closing [2]string
		path    string
	}{
		{
			name:    "self edge",
			closing: [2]string{"a", "a"},
			path:    "a -> a",
		},
		{
			name:    "two node cycle",
			edges:   [][2]string{{"a", "b"}},
			closing: [2]string{"b", "a"},
			path:    "a -> b -> a",
		},
		{
			name:    "long cycle",
			edges:   [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}},
			closing: [2]string{"d", "a"},
			path:    "a -> b -> c -> d -> a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph(t, "a", "b", "c", "d")
			for _, e := range tt.edges {
				require.NoError(t, g.AddEdge(e[0], e[1]))
			}

			err := g.AddEdge(tt.closing[0], tt.closing[1])
			require.Error(t, err)
			assert.ErrorIs(t, err, pipelineErrors.ErrCycle)
			assert.Contains(t, err.Error(), tt.path)

			// the rejected edge must not have been recorded
			assert.Len(t, g.Edges(), len(tt.edges))
			_, err = g.TopologicalOrder()
			assert.NoError(t, err)
		})
	}
}

func TestGraph_RandomEdgesStayAcyclic(t *testing.T) {
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("t%02d", i)
	}
	g := newTestGraph(t, names...)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		from := names[rng.Intn(len(names))]
		to := names[rng.Intn(len(names))]
		err := g.AddEdge(from, to)
		if err != nil {
			assert.ErrorIs(t, err, pipelineErrors.ErrCycle)
		}
	}

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	position := make(map[string]int, len(order))
	for i, name := range order {
		position[name] = i
	}
	for _, e := range g.Edges() {
		assert.Less(t, position[e.From], position[e.To], "edge %s -> %s out of order", e.From, e.To)
	}
}

func TestGraph_TopologicalOrderDeterministic(t *testing.T) {
	g := newTestGraph(t, "check_file_exists", "load_csv_to_bq", "transform_b", "transform_a", "create_view_a", "create_view_b")
	require.NoError(t, g.AddEdge("check_file_exists", "load_csv_to_bq"))
	require.NoError(t, g.AddEdge("load_csv_to_bq", "transform_b"))
	require.NoError(t, g.AddEdge("load_csv_to_bq", "transform_a"))
	require.NoError(t, g.AddEdge("transform_a", "create_view_a"))
	require.NoError(t, g.AddEdge("transform_b", "create_view_b"))

	expected := []string{"check_file_exists", "load_csv_to_bq", "transform_a", "create_view_a", "transform_b", "create_view_b"}
	for i := 0; i < 5; i++ {
		order, err := g.TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, expected, order)
	}
}

func TestGraph_RootsAndDescendants(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c", "d", "e")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("a", "d"))

	assert.Equal(t, []string{"a", "e"}, g.Roots())

	desc, err := g.Descendants("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, desc)

	desc, err = g.Descendants("e")
	require.NoError(t, err)
	assert.Empty(t, desc)

	_, err = g.Descendants("zzz")
	assert.ErrorIs(t, err, pipelineErrors.ErrNotFound)
}
