package builder

import (
	"fmt"

	"github.com/sicko7947/agentflow"
)

// WorkflowBuilder provides a fluent API for building workflow definitions.
// Each call chains its nodes after the nodes added by the previous call.
type WorkflowBuilder struct {
	workflow    *agentflow.WorkflowGraph
	lastNodeIDs []string
	err         error
}

// NewWorkflow creates a new workflow builder
func NewWorkflow(id, name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		workflow:    agentflow.NewWorkflowGraph(id, name),
		lastNodeIDs: []string{},
	}
}

// WithDescription sets the workflow description
func (b *WorkflowBuilder) WithDescription(description string) *WorkflowBuilder {
	b.workflow.Description = description
	return b
}

// Then chains the given node after the last added node(s)
func (b *WorkflowBuilder) Then(node agentflow.Node) *WorkflowBuilder {
	b.addNode(node)
	b.chain(b.lastNodeIDs, node.ID, "")
	b.lastNodeIDs = []string{node.ID}
	return b
}

// Sequence adds multiple nodes and chains them together in order
func (b *WorkflowBuilder) Sequence(nodes ...agentflow.Node) *WorkflowBuilder {
	for _, node := range nodes {
		b.Then(node)
	}
	return b
}

// Parallel fans out to the branches through a parallel gateway and joins them
// again in a parallel join. Later nodes chain after the join.
func (b *WorkflowBuilder) Parallel(gatewayID, joinID string, branches ...agentflow.Node) *WorkflowBuilder {
	b.Then(agentflow.Node{ID: gatewayID, Kind: agentflow.NodeKindParallelGateway})

	for _, branch := range branches {
		b.addNode(branch)
		b.chain([]string{gatewayID}, branch.ID, "")
	}

	b.addNode(agentflow.Node{ID: joinID, Kind: agentflow.NodeKindParallelJoin})
	for _, branch := range branches {
		b.chain([]string{branch.ID}, joinID, "")
	}

	b.lastNodeIDs = []string{joinID}
	return b
}

// Decide adds a decision node with labelled true/false branches.
// onFalse may be nil, in which case a false result ends the path.
// Later nodes chain after both branches; only the taken one reaches them.
func (b *WorkflowBuilder) Decide(id, condition string, onTrue agentflow.Node, onFalse *agentflow.Node) *WorkflowBuilder {
	b.Then(agentflow.Node{ID: id, Kind: agentflow.NodeKindDecision, ConditionExpr: condition})

	b.addNode(onTrue)
	b.chain([]string{id}, onTrue.ID, "true")
	last := []string{onTrue.ID}

	if onFalse != nil {
		b.addNode(*onFalse)
		b.chain([]string{id}, onFalse.ID, "false")
		last = append(last, onFalse.ID)
	}

	b.lastNodeIDs = last
	return b
}

// Loop adds a loop start, its body and a loop end. The body runs while
// condition holds, at most maxIterations times (nil uses the engine default).
func (b *WorkflowBuilder) Loop(startID, endID, condition string, maxIterations *int, body ...agentflow.Node) *WorkflowBuilder {
	b.Then(agentflow.Node{
		ID:            startID,
		Kind:          agentflow.NodeKindLoopStart,
		LoopCondition: condition,
		MaxIterations: maxIterations,
	})

	// body nodes are the start's successors that come before the loop end
	for _, node := range body {
		b.addNode(node)
		b.chain([]string{startID}, node.ID, "")
	}

	b.addNode(agentflow.Node{ID: endID, Kind: agentflow.NodeKindLoopEnd})
	b.chain([]string{startID}, endID, "")

	b.lastNodeIDs = []string{endID}
	return b
}

// Build finalizes and validates the workflow
func (b *WorkflowBuilder) Build() (*agentflow.WorkflowGraph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := ValidateWorkflow(b.workflow); err != nil {
		return nil, err
	}
	return b.workflow.Clone(), nil
}

// MustBuild finalizes and validates the workflow, panics on error
func (b *WorkflowBuilder) MustBuild() *agentflow.WorkflowGraph {
	wf, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build workflow: %v", err))
	}
	return wf
}

func (b *WorkflowBuilder) addNode(node agentflow.Node) {
	if b.err != nil {
		return
	}
	if err := b.workflow.AddNode(node); err != nil {
		b.err = fmt.Errorf("failed to add node: %w", err)
	}
}

func (b *WorkflowBuilder) chain(from []string, to, condition string) {
	if b.err != nil {
		return
	}
	for _, id := range from {
		if err := b.workflow.AddEdge(id, to, condition); err != nil {
			b.err = fmt.Errorf("failed to add edge: %w", err)
			return
		}
	}
}
