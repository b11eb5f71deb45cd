package agentflow

import (
	"fmt"
	"time"
)

// NodeKind defines the role a node plays in the graph walk
type NodeKind string

const (
	NodeKindTask            NodeKind = "task"
	NodeKindDecision        NodeKind = "decision"
	NodeKindParallelGateway NodeKind = "parallel_gateway"
	NodeKindParallelJoin    NodeKind = "parallel_join"
	// NodeKindLoopStart repeats the task nodes among its successors. Other
	// node kinds in the body are skipped, and their successors are not
	// walked when the loop has a LoopEnd.
	NodeKindLoopStart       NodeKind = "loop_start"
	NodeKindLoopEnd         NodeKind = "loop_end"
)

// String returns the string representation
func (k NodeKind) String() string {
	return string(k)
}

// IsValid reports whether k is a known kind. The empty kind is accepted and means task.
func (k NodeKind) IsValid() bool {
	switch k {
	case "", NodeKindTask, NodeKindDecision, NodeKindParallelGateway,
		NodeKindParallelJoin, NodeKindLoopStart, NodeKindLoopEnd:
		return true
	}
	return false
}

// NodeConfig holds the invocation settings of a task node
type NodeConfig struct {
	// NodeType selects the handler: skill, agent or team
	NodeType       string `json:"nodeType,omitempty" yaml:"node_type,omitempty" dynamodbav:"node_type,omitempty"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty" dynamodbav:"name,omitempty"`
	Prompt         string `json:"prompt,omitempty" yaml:"prompt,omitempty" dynamodbav:"prompt,omitempty"`
	Args           string `json:"args,omitempty" yaml:"args,omitempty" dynamodbav:"args,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeout_seconds,omitempty" dynamodbav:"timeout_seconds,omitempty"`
}

// Node is a unit of work or a control-flow construct
type Node struct {
	ID            string     `json:"id" yaml:"id" dynamodbav:"id"`
	Kind          NodeKind   `json:"kind,omitempty" yaml:"kind,omitempty" dynamodbav:"kind,omitempty"`
	Name          string     `json:"name,omitempty" yaml:"name,omitempty" dynamodbav:"name,omitempty"`
	Config        NodeConfig `json:"config" yaml:"config,omitempty" dynamodbav:"config"`
	ConditionExpr string     `json:"conditionExpr,omitempty" yaml:"condition,omitempty" dynamodbav:"condition_expr,omitempty"`
	LoopCondition string     `json:"loopCondition,omitempty" yaml:"loop_condition,omitempty" dynamodbav:"loop_condition,omitempty"`
	MaxIterations *int       `json:"maxIterations,omitempty" yaml:"max_iterations,omitempty" dynamodbav:"max_iterations,omitempty"`
}

// EffectiveKind returns the node kind, defaulting to task
func (n *Node) EffectiveKind() NodeKind {
	if n.Kind == "" {
		return NodeKindTask
	}
	return n.Kind
}

// Edge is a directed connection between two nodes
type Edge struct {
	FromNodeID string `json:"fromNodeId" yaml:"from" dynamodbav:"from_node_id"`
	ToNodeID   string `json:"toNodeId" yaml:"to" dynamodbav:"to_node_id"`
	Condition  string `json:"condition,omitempty" yaml:"condition,omitempty" dynamodbav:"condition,omitempty"`
}

// WorkflowGraph is the stored definition a run executes. It is read-only during a run.
type WorkflowGraph struct {
	ID          string    `json:"id" dynamodbav:"workflow_id"`
	Name        string    `json:"name" dynamodbav:"name"`
	Description string    `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Nodes       []Node    `json:"nodes" dynamodbav:"nodes"`
	Edges       []Edge    `json:"edges" dynamodbav:"edges"`
	CreatedAt   time.Time `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

// NewWorkflowGraph creates an empty workflow definition
func NewWorkflowGraph(id, name string) *WorkflowGraph {
	now := time.Now()
	return &WorkflowGraph{
		ID:        id,
		Name:      name,
		Nodes:     []Node{},
		Edges:     []Edge{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddNode appends a node. Duplicate ids are rejected.
func (w *WorkflowGraph) AddNode(node Node) error {
	if node.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if _, exists := w.GetNode(node.ID); exists {
		return fmt.Errorf("node %s already exists", node.ID)
	}
	w.Nodes = append(w.Nodes, node)
	return nil
}

// AddEdge adds a directed edge from one node to another
func (w *WorkflowGraph) AddEdge(from, to, condition string) error {
	if _, exists := w.GetNode(from); !exists {
		return fmt.Errorf("source node %s not found", from)
	}
	if _, exists := w.GetNode(to); !exists {
		return fmt.Errorf("target node %s not found", to)
	}

	w.Edges = append(w.Edges, Edge{FromNodeID: from, ToNodeID: to, Condition: condition})
	return nil
}

// GetNode looks a node up by id
func (w *WorkflowGraph) GetNode(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Validate runs the graph validator over the definition
func (w *WorkflowGraph) Validate() (*GraphReport, error) {
	return ValidateGraph(w.Nodes, w.Edges)
}

// Clone creates a deep copy of the definition
func (w *WorkflowGraph) Clone() *WorkflowGraph {
	clone := *w
	clone.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		clone.Nodes[i] = n
		if n.MaxIterations != nil {
			clone.Nodes[i].MaxIterations = ToPtr(*n.MaxIterations)
		}
	}
	clone.Edges = append([]Edge{}, w.Edges...)
	return &clone
}
