package agentflow

import (
	"fmt"
	"sort"
)

// GraphIndex is the adjacency view of a workflow graph.
// Successor lists keep edge definition order, which decisions and loops rely on.
type GraphIndex struct {
	Nodes        map[string]*Node
	Order        []string
	OutEdges     map[string][]Edge
	Predecessors map[string][]string
	InDegree     map[string]int
}

// GraphReport is the result of a successful validation
type GraphReport struct {
	Valid            bool     `json:"valid"`
	TopologicalOrder []string `json:"topologicalOrder"`
	IsolatedNodes    []string `json:"isolatedNodes"`
}

// NewGraphIndex builds adjacency and in-degree tables.
// It fails with a GraphError on duplicate node ids or dangling edges.
func NewGraphIndex(nodes []Node, edges []Edge) (*GraphIndex, error) {
	g := &GraphIndex{
		Nodes:        make(map[string]*Node, len(nodes)),
		Order:        make([]string, 0, len(nodes)),
		OutEdges:     make(map[string][]Edge, len(nodes)),
		Predecessors: make(map[string][]string, len(nodes)),
		InDegree:     make(map[string]int, len(nodes)),
	}

	for i := range nodes {
		node := &nodes[i]
		if _, exists := g.Nodes[node.ID]; exists {
			return nil, NewGraphError(ErrDuplicateNode, fmt.Sprintf("node %q is defined more than once", node.ID))
		}
		g.Nodes[node.ID] = node
		g.Order = append(g.Order, node.ID)
		g.InDegree[node.ID] = 0
	}

	for _, edge := range edges {
		if _, exists := g.Nodes[edge.FromNodeID]; !exists {
			return nil, NewGraphError(ErrDanglingEdge,
				fmt.Sprintf("edge %s -> %s references unknown node %q", edge.FromNodeID, edge.ToNodeID, edge.FromNodeID))
		}
		if _, exists := g.Nodes[edge.ToNodeID]; !exists {
			return nil, NewGraphError(ErrDanglingEdge,
				fmt.Sprintf("edge %s -> %s references unknown node %q", edge.FromNodeID, edge.ToNodeID, edge.ToNodeID))
		}

		g.OutEdges[edge.FromNodeID] = append(g.OutEdges[edge.FromNodeID], edge)
		g.Predecessors[edge.ToNodeID] = append(g.Predecessors[edge.ToNodeID], edge.FromNodeID)
		g.InDegree[edge.ToNodeID]++
	}

	return g, nil
}

// Successors returns the direct successors of a node in edge order
func (g *GraphIndex) Successors(nodeID string) []string {
	edges := g.OutEdges[nodeID]
	next := make([]string, 0, len(edges))
	for _, e := range edges {
		next = append(next, e.ToNodeID)
	}
	return next
}

// Roots returns the nodes without incoming edges, in definition order
func (g *GraphIndex) Roots() []string {
	var roots []string
	for _, id := range g.Order {
		if g.InDegree[id] == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// IsTerminal returns true if the node has no outgoing edges
func (g *GraphIndex) IsTerminal(nodeID string) bool {
	return len(g.OutEdges[nodeID]) == 0
}

// TopologicalSort orders the nodes with Kahn's algorithm.
// A result shorter than the node count means the graph has a cycle.
func (g *GraphIndex) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.InDegree))
	for id, d := range g.InDegree {
		inDegree[id] = d
	}

	queue := g.Roots()
	order := make([]string, 0, len(g.Order))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, next := range g.Successors(id) {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.Order) {
		return nil, NewGraphError(ErrCycleDetected,
			fmt.Sprintf("%d of %d nodes are part of or behind a cycle", len(g.Order)-len(order), len(g.Order)))
	}

	return order, nil
}

// IsolatedNodes returns nodes with neither incoming nor outgoing edges, sorted by id.
// A single-node graph has no isolated nodes.
func (g *GraphIndex) IsolatedNodes() []string {
	isolated := []string{}
	if len(g.Order) <= 1 {
		return isolated
	}

	for _, id := range g.Order {
		if g.InDegree[id] == 0 && len(g.OutEdges[id]) == 0 {
			isolated = append(isolated, id)
		}
	}
	sort.Strings(isolated)
	return isolated
}

// ValidateGraph checks structure and acyclicity. It has no side effects
// and returns the same report for the same input.
func ValidateGraph(nodes []Node, edges []Edge) (*GraphReport, error) {
	g, err := NewGraphIndex(nodes, edges)
	if err != nil {
		return nil, err
	}

	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	return &GraphReport{
		Valid:            true,
		TopologicalOrder: order,
		IsolatedNodes:    g.IsolatedNodes(),
	}, nil
}
