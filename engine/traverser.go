package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sicko7947/agentflow"
	"golang.org/x/sync/errgroup"
)

// run is the state of one graph walk. Gateway branches share it, so the
// node sets and the sequence counter are safe for concurrent use.
//
// executed holds nodes some path has claimed, done holds nodes that finished
// successfully. A claimed task can still be in flight in another branch, so
// join barriers only look at done.
type run struct {
	engine *Engine
	exec   *agentflow.Execution
	graph  *agentflow.GraphIndex
	logger zerolog.Logger

	mu       sync.Mutex
	executed map[string]bool
	done     map[string]bool
	parked   map[string]bool
	sequence atomic.Int64
}

func newRun(e *Engine, exec *agentflow.Execution, graph *agentflow.GraphIndex, logger zerolog.Logger) *run {
	return &run{
		engine:   e,
		exec:     exec,
		graph:    graph,
		logger:   logger,
		executed: make(map[string]bool, len(graph.Order)),
		done:     make(map[string]bool, len(graph.Order)),
		parked:   make(map[string]bool),
	}
}

// claim marks a node executed and reports whether this caller got it first
func (r *run) claim(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.executed[nodeID] {
		return false
	}
	r.executed[nodeID] = true
	return true
}

func (r *run) markExecuted(nodeIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range nodeIDs {
		r.executed[id] = true
	}
}

// finish records that nodes completed and returns the parked joins they
// released, so the caller can walk them
func (r *run) finish(nodeIDs ...string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range nodeIDs {
		r.done[id] = true
	}

	var released []string
	for _, id := range nodeIDs {
		for _, succ := range r.graph.Successors(id) {
			if r.parked[succ] && r.joinReadyLocked(succ) {
				delete(r.parked, succ)
				released = append(released, succ)
			}
		}
	}
	return released
}

// enterJoin claims a join once every predecessor is done. Otherwise the join
// is parked until finish releases it.
func (r *run) enterJoin(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.executed[nodeID] {
		return false
	}
	if !r.joinReadyLocked(nodeID) {
		r.parked[nodeID] = true
		return false
	}
	delete(r.parked, nodeID)
	r.executed[nodeID] = true
	return true
}

func (r *run) joinReadyLocked(nodeID string) bool {
	for _, pred := range r.graph.Predecessors[nodeID] {
		if !r.done[pred] {
			return false
		}
	}
	return true
}

func (r *run) isExecuted(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executed[nodeID]
}

func (r *run) nextSequence() int {
	return int(r.sequence.Add(1))
}

// walk processes a list of candidate nodes. Gateways among the candidates
// fork first; the remaining candidates are handled in list order.
func (r *run) walk(ctx context.Context, rc *agentflow.RunContext, candidates []string) error {
	var gateways, rest []string
	for _, id := range candidates {
		if r.isExecuted(id) {
			continue
		}
		if r.graph.Nodes[id].EffectiveKind() == agentflow.NodeKindParallelGateway {
			gateways = append(gateways, id)
		} else {
			rest = append(rest, id)
		}
	}

	for _, id := range gateways {
		if !r.claim(id) {
			continue
		}
		next, err := r.fork(ctx, rc, r.graph.Nodes[id])
		if err != nil {
			return err
		}
		next = agentflow.Dedup(append(next, r.finish(id)...))
		if err := r.walk(ctx, rc, next); err != nil {
			return err
		}
	}

	for _, id := range rest {
		if err := r.visit(ctx, rc, r.graph.Nodes[id]); err != nil {
			return err
		}
	}
	return nil
}

// visit handles a single non-gateway node and recurses into what follows it
func (r *run) visit(ctx context.Context, rc *agentflow.RunContext, node *agentflow.Node) error {
	switch node.EffectiveKind() {
	case agentflow.NodeKindDecision:
		if !r.claim(node.ID) {
			return nil
		}
		var next []string
		if chosen := r.decide(rc, node); chosen != "" {
			next = append(next, chosen)
		}
		next = append(next, r.finish(node.ID)...)
		return r.walk(ctx, rc, agentflow.Dedup(next))

	case agentflow.NodeKindLoopStart:
		if !r.claim(node.ID) {
			return nil
		}
		next, err := r.loop(ctx, rc, node)
		if err != nil {
			return err
		}
		next = append(next, r.finish(node.ID)...)
		return r.walk(ctx, rc, agentflow.Dedup(next))

	case agentflow.NodeKindParallelJoin:
		if !r.enterJoin(node.ID) {
			return nil
		}
		return r.walk(ctx, rc, r.proceed(node.ID))

	case agentflow.NodeKindLoopEnd:
		if !r.claim(node.ID) {
			return nil
		}
		return r.walk(ctx, rc, r.proceed(node.ID))

	default:
		if !r.claim(node.ID) {
			return nil
		}
		if err := r.dispatch(ctx, rc, node, nil); err != nil {
			return err
		}
		return r.walk(ctx, rc, r.proceed(node.ID))
	}
}

// proceed marks a node done and returns its successors plus any joins it released
func (r *run) proceed(nodeID string) []string {
	next := append(r.graph.Successors(nodeID), r.finish(nodeID)...)
	return agentflow.Dedup(next)
}

// fork runs every direct successor of a gateway concurrently and joins them.
// It returns the nodes the walk continues from once all branches succeeded.
func (r *run) fork(ctx context.Context, rc *agentflow.RunContext, gateway *agentflow.Node) ([]string, error) {
	heads := r.graph.Successors(gateway.ID)
	agentflow.LogGatewayForked(r.logger, gateway.ID, heads)

	g, gctx := errgroup.WithContext(ctx)
	if limit := r.engine.config.MaxParallelBranches; limit > 0 {
		g.SetLimit(limit)
	}

	branches := make([]*agentflow.RunContext, len(heads))
	resume := make([][]string, len(heads))

	for i, headID := range heads {
		branch := rc.Branch()
		branches[i] = branch
		head := r.graph.Nodes[headID]

		g.Go(func() error {
			switch head.EffectiveKind() {
			case agentflow.NodeKindTask:
				if !r.claim(head.ID) {
					return nil
				}
				if err := r.dispatch(gctx, branch, head, nil); err != nil {
					return err
				}
				resume[i] = r.proceed(head.ID)
				return nil
			case agentflow.NodeKindParallelJoin:
				return nil
			default:
				return r.walk(gctx, branch, []string{head.ID})
			}
		})
	}

	err := g.Wait()
	agentflow.LogGatewayJoined(r.logger, gateway.ID, err)
	if err != nil {
		return nil, fmt.Errorf("parallel gateway %s failed: %w", gateway.ID, err)
	}

	var next []string
	for i, branch := range branches {
		rc.Merge(branch)
		next = append(next, resume[i]...)
	}
	return agentflow.Dedup(next), nil
}

// decide evaluates a decision node and returns the successor to follow,
// or "" when the chosen slot does not exist. A decision without an
// expression always takes its first outgoing edge, whatever its label.
func (r *run) decide(rc *agentflow.RunContext, node *agentflow.Node) string {
	edges := r.graph.OutEdges[node.ID]

	if strings.TrimSpace(node.ConditionExpr) == "" {
		rc.Set(agentflow.NodeOutputKey(node.ID), "true")
		var next string
		if len(edges) > 0 {
			next = edges[0].ToNodeID
		}
		agentflow.LogDecisionEvaluated(r.logger, node.ID, node.ConditionExpr, true, next)
		return next
	}

	result := agentflow.EvaluateCondition(node.ConditionExpr, rc.Snapshot())
	rc.Set(agentflow.NodeOutputKey(node.ID), fmt.Sprint(result))

	next := pickBranch(edges, result)
	agentflow.LogDecisionEvaluated(r.logger, node.ID, node.ConditionExpr, result, next)
	return next
}

// pickBranch routes by "true"/"false" edge labels when present,
// otherwise by position: first successor on true, second on false
func pickBranch(edges []agentflow.Edge, result bool) string {
	want := fmt.Sprint(result)

	labelled := false
	for _, e := range edges {
		label := strings.ToLower(strings.TrimSpace(e.Condition))
		if label == "true" || label == "false" {
			labelled = true
			if label == want {
				return e.ToNodeID
			}
		}
	}
	if labelled {
		return ""
	}

	slot := 0
	if !result {
		slot = 1
	}
	if slot < len(edges) {
		return edges[slot].ToNodeID
	}
	return ""
}

// loop runs the body of a loop start node and returns where the walk continues.
//
// The body is the loop start's successors in edge order up to the first
// LoopEnd. Only task nodes in the body are dispatched; decisions, gateways and
// nested loops there are skipped (logged as node_skipped) yet still count as
// executed afterwards. With a LoopEnd the walk continues from the LoopEnd's
// successors only, so anything hanging off a skipped body node never runs.
// Without a LoopEnd it continues from the body nodes' successors outside the body.
func (r *run) loop(ctx context.Context, rc *agentflow.RunContext, start *agentflow.Node) ([]string, error) {
	maxIterations := r.engine.config.MaxIterations(start)

	var body []*agentflow.Node
	var loopEnd *agentflow.Node
	for _, id := range r.graph.Successors(start.ID) {
		n := r.graph.Nodes[id]
		if n.EffectiveKind() == agentflow.NodeKindLoopEnd {
			loopEnd = n
			break
		}
		body = append(body, n)
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		rc.Set(agentflow.KeyLoopIteration, iteration)
		if start.LoopCondition != "" && !agentflow.EvaluateCondition(start.LoopCondition, rc.Snapshot()) {
			break
		}
		agentflow.LogLoopIteration(r.logger, start.ID, iteration, maxIterations)

		for _, n := range body {
			if n.EffectiveKind() != agentflow.NodeKindTask {
				agentflow.LogNodeSkipped(r.logger, n.ID, "only task nodes run inside a loop body")
				continue
			}
			if err := r.dispatch(ctx, rc, n, agentflow.ToPtr(iteration)); err != nil {
				return nil, err
			}
		}
	}

	inBody := make(map[string]bool, len(body))
	finished := make([]string, 0, len(body)+1)
	for _, n := range body {
		inBody[n.ID] = true
		r.markExecuted(n.ID)
		finished = append(finished, n.ID)
	}

	if loopEnd != nil {
		r.markExecuted(loopEnd.ID)
		finished = append(finished, loopEnd.ID)
		released := r.finish(finished...)
		return agentflow.Dedup(append(r.graph.Successors(loopEnd.ID), released...)), nil
	}
	released := r.finish(finished...)

	var next []string
	for _, n := range body {
		for _, succ := range r.graph.Successors(n.ID) {
			if !inBody[succ] {
				next = append(next, succ)
			}
		}
	}
	return agentflow.Dedup(append(next, released...)), nil
}
