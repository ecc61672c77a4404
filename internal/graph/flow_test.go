package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowGraph(t *testing.T) {
	g := NewFlowGraph()
	assert.NotNil(t, g)
	assert.Equal(t, 0, g.NodeCount())
	assert.Empty(t, g.Edges())
}

func TestAddNode(t *testing.T) {
	g := NewFlowGraph()
	g.AddNode("CEO")
	g.AddNode("Analyst")
	g.AddNode("CEO")

	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, []string{"CEO", "Analyst"}, g.Nodes())
}

func TestAddEdge(t *testing.T) {
	g := NewFlowGraph()
	g.AddNode("CEO")
	g.AddNode("Analyst")

	added, err := g.AddEdge("CEO", "Analyst")
	require.NoError(t, err)
	assert.True(t, added)

	assert.True(t, g.Allowed("CEO", "Analyst"))
	assert.False(t, g.Allowed("Analyst", "CEO"))
	assert.Equal(t, []string{"Analyst"}, g.Successors("CEO"))
}

func TestAddEdge_Idempotent(t *testing.T) {
	g := NewFlowGraph()
	g.AddNode("A")
	g.AddNode("B")

	added, err := g.AddEdge("A", "B")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = g.AddEdge("A", "B")
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, []Edge{{From: "A", To: "B"}}, g.Edges())
	assert.Equal(t, []string{"B"}, g.Successors("A"))
}

func TestAddEdge_UnknownNode(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		unknown  string
	}{
		{name: "unknown source", from: "X", to: "A", unknown: "X"},
		{name: "unknown destination", from: "A", to: "Y", unknown: "Y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewFlowGraph()
			g.AddNode("A")

			_, err := g.AddEdge(tt.from, tt.to)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnknownNode))

			var nodeErr *UnknownNodeError
			require.True(t, errors.As(err, &nodeErr))
			assert.Equal(t, tt.unknown, nodeErr.Name)
			assert.Empty(t, g.Edges())
		})
	}
}

func TestSuccessors_MutationProtection(t *testing.T) {
	g := NewFlowGraph()
	g.AddNode("A")
	g.AddNode("B")
	_, _ = g.AddEdge("A", "B")

	succ := g.Successors("A")
	succ[0] = "X"

	assert.Equal(t, []string{"B"}, g.Successors("A"))
	assert.Empty(t, g.Successors("unknown"))
}

func TestFindCycle(t *testing.T) {
	tests := []struct {
		name      string
		nodes     []string
		edges     [][2]string
		wantCycle bool
	}{
		{
			name:  "empty graph",
			nodes: nil,
		},
		{
			name:  "chain",
			nodes: []string{"CEO", "Collector", "Analyst", "Reporter"},
			edges: [][2]string{{"CEO", "Collector"}, {"Collector", "Analyst"}, {"Analyst", "Reporter"}},
		},
		{
			name:  "diamond",
			nodes: []string{"a", "b", "c", "d"},
			edges: [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}},
		},
		{
			name:      "two node cycle",
			nodes:     []string{"CEO", "Analyst"},
			edges:     [][2]string{{"CEO", "Analyst"}, {"Analyst", "CEO"}},
			wantCycle: true,
		},
		{
			name:      "self loop",
			nodes:     []string{"a"},
			edges:     [][2]string{{"a", "a"}},
			wantCycle: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewFlowGraph()
			for _, n := range tt.nodes {
				g.AddNode(n)
			}
			for _, e := range tt.edges {
				_, err := g.AddEdge(e[0], e[1])
				require.NoError(t, err)
			}

			err := g.FindCycle()
			if !tt.wantCycle {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCycleDetected))

			var cycleErr *CycleError
			require.True(t, errors.As(err, &cycleErr))
			assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
		})
	}
}

func TestFindCycle_Path(t *testing.T) {
	g := NewFlowGraph()
	for _, n := range []string{"CEO", "Analyst", "Reporter"} {
		g.AddNode(n)
	}
	_, _ = g.AddEdge("CEO", "Analyst")
	_, _ = g.AddEdge("Analyst", "Reporter")
	_, _ = g.AddEdge("Reporter", "Analyst")

	var cycleErr *CycleError
	require.ErrorAs(t, g.FindCycle(), &cycleErr)
	assert.Equal(t, []string{"Analyst", "Reporter", "Analyst"}, cycleErr.Path)
	assert.Contains(t, cycleErr.Error(), "Analyst -> Reporter -> Analyst")
}

func TestReachable(t *testing.T) {
	g := NewFlowGraph()
	for _, n := range []string{"CEO", "Collector", "Analyst", "Isolated"} {
		g.AddNode(n)
	}
	_, _ = g.AddEdge("CEO", "Collector")
	_, _ = g.AddEdge("Collector", "Analyst")
	_, _ = g.AddEdge("Analyst", "CEO")

	assert.Equal(t, []string{"Analyst", "Collector"}, g.Reachable("CEO"))
	assert.Empty(t, g.Reachable("Isolated"))
}
