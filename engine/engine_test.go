package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/agentflow"
	"github.com/sicko7947/agentflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invocation struct {
	handler agentflow.HandlerType
	name    string
	input   string
	timeout time.Duration
}

// scriptedInvoker answers by work unit name and records every call
type scriptedInvoker struct {
	mu      sync.Mutex
	calls   []invocation
	results map[string]func(call int) (*agentflow.InvocationResult, error)
	counts  map[string]int
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		results: make(map[string]func(int) (*agentflow.InvocationResult, error)),
		counts:  make(map[string]int),
	}
}

func (s *scriptedInvoker) on(name string, fn func(call int) (*agentflow.InvocationResult, error)) *scriptedInvoker {
	s.results[name] = fn
	return s
}

func (s *scriptedInvoker) fail(name, message string) *scriptedInvoker {
	return s.on(name, func(int) (*agentflow.InvocationResult, error) {
		return &agentflow.InvocationResult{Success: false, Error: message}, nil
	})
}

func (s *scriptedInvoker) vars(name string, vars map[string]any) *scriptedInvoker {
	return s.on(name, func(int) (*agentflow.InvocationResult, error) {
		return &agentflow.InvocationResult{Success: true, Output: name + " done", Variables: vars}, nil
	})
}

func (s *scriptedInvoker) record(handler agentflow.HandlerType, name, input string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, invocation{handler: handler, name: name, input: input, timeout: timeout})
	call := s.counts[name]
	s.counts[name]++
	fn := s.results[name]
	s.mu.Unlock()

	if fn == nil {
		return &agentflow.InvocationResult{Success: true, Output: name + " done"}, nil
	}
	return fn(call)
}

func (s *scriptedInvoker) ExecuteSkill(ctx context.Context, name, args string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	return s.record(agentflow.HandlerSkill, name, args, timeout)
}

func (s *scriptedInvoker) ExecuteWithAgent(ctx context.Context, name, prompt string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	return s.record(agentflow.HandlerAgent, name, prompt, timeout)
}

func (s *scriptedInvoker) ExecuteWithTeam(ctx context.Context, name, prompt string, timeout time.Duration) (*agentflow.InvocationResult, error) {
	return s.record(agentflow.HandlerTeam, name, prompt, timeout)
}

func (s *scriptedInvoker) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		names = append(names, c.name)
	}
	return names
}

func createTestEngine(t *testing.T, inv agentflow.Invoker, opts ...EngineOption) (*Engine, *store.MemoryStore) {
	t.Helper()

	memStore := store.NewMemoryStore()
	opts = append([]EngineOption{WithLogger(zerolog.New(io.Discard))}, opts...)
	return NewEngine(memStore, inv, opts...), memStore
}

// skill builds a task node whose work unit name equals its id
func skill(id string) agentflow.Node {
	return agentflow.Node{ID: id, Kind: agentflow.NodeKindTask, Config: agentflow.NodeConfig{NodeType: "skill", Name: id}}
}

func node(id string, kind agentflow.NodeKind) agentflow.Node {
	return agentflow.Node{ID: id, Kind: kind}
}

// seed stores a workflow built from nodes and "from->to[:label]" edges plus a task assigned to it
func seed(t *testing.T, s *store.MemoryStore, nodes []agentflow.Node, edges [][3]string) string {
	t.Helper()

	wf := agentflow.NewWorkflowGraph("wf-"+t.Name(), t.Name())
	for _, n := range nodes {
		require.NoError(t, wf.AddNode(n))
	}
	for _, e := range edges {
		require.NoError(t, wf.AddEdge(e[0], e[1], e[2]))
	}
	require.NoError(t, s.SaveWorkflow(context.Background(), wf))

	task := &agentflow.Task{
		ID:         "task-" + t.Name(),
		Title:      t.Name(),
		WorkflowID: wf.ID,
		Status:     agentflow.TaskStatusPending,
		Inputs:     map[string]any{"topic": "go"},
	}
	require.NoError(t, s.SaveTask(context.Background(), task))
	return task.ID
}

func nodeRows(t *testing.T, eng *Engine, executionID string) []*agentflow.NodeExecution {
	t.Helper()
	rows, err := eng.ListNodeExecutions(context.Background(), executionID)
	require.NoError(t, err)
	return rows
}

func rowsFor(rows []*agentflow.NodeExecution, nodeID string) []*agentflow.NodeExecution {
	var out []*agentflow.NodeExecution
	for _, r := range rows {
		if r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

func TestEngine_SequentialWorkflow(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s,
		[]agentflow.Node{skill("A"), skill("B")},
		[][3]string{{"A", "B", ""}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)
	assert.NotNil(t, exec.StartedAt)
	assert.NotNil(t, exec.FinishedAt)
	assert.Empty(t, exec.ErrorMessage)

	rows := nodeRows(t, eng, exec.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].NodeID)
	assert.Equal(t, "B", rows[1].NodeID)
	for i, r := range rows {
		assert.Equal(t, agentflow.NodeExecutionStatusSucceeded, r.Status)
		assert.Equal(t, i+1, r.Sequence)
		assert.Equal(t, agentflow.HandlerSkill, r.Handler)
		assert.Nil(t, r.Iteration)
		assert.NotNil(t, r.FinishedAt)
	}
	assert.Equal(t, "A done", rows[0].Output)

	stored, err := eng.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, stored.Status)

	task, err := s.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.TaskStatusCompleted, task.Status)
}

func TestEngine_DecisionFollowsVariables(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		labels  [2]string
		want    string
		notWant string
	}{
		{name: "labelled true", status: "ok", labels: [2]string{"true", "false"}, want: "B", notWant: "C"},
		{name: "labelled false", status: "bad", labels: [2]string{"true", "false"}, want: "C", notWant: "B"},
		{name: "positional true", status: "ok", want: "B", notWant: "C"},
		{name: "positional false", status: "bad", want: "C", notWant: "B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newScriptedInvoker().vars("A", map[string]any{"status": tt.status})
			eng, s := createTestEngine(t, inv)

			decision := node("D", agentflow.NodeKindDecision)
			decision.ConditionExpr = `status == "ok"`

			taskID := seed(t, s,
				[]agentflow.Node{skill("A"), decision, skill("B"), skill("C")},
				[][3]string{{"A", "D", ""}, {"D", "B", tt.labels[0]}, {"D", "C", tt.labels[1]}},
			)

			exec, err := eng.ExecuteTask(context.Background(), taskID)
			require.NoError(t, err)
			assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)

			rows := nodeRows(t, eng, exec.ID)
			assert.Len(t, rowsFor(rows, tt.want), 1)
			assert.Empty(t, rowsFor(rows, tt.notWant))
			assert.Empty(t, rowsFor(rows, "D"), "decisions do not produce node executions")
		})
	}
}

func TestEngine_DecisionLabelOrderIndependent(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	decision := node("D", agentflow.NodeKindDecision)
	decision.ConditionExpr = "topic == go"

	// false edge defined first
	taskID := seed(t, s,
		[]agentflow.Node{decision, skill("no"), skill("yes")},
		[][3]string{{"D", "no", "false"}, {"D", "yes", "true"}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"yes"}, inv.names())
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)
}

func TestEngine_DecisionWithoutExpressionTakesFirstEdge(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	// labels are ignored without an expression
	taskID := seed(t, s,
		[]agentflow.Node{node("D", agentflow.NodeKindDecision), skill("X"), skill("Y")},
		[][3]string{{"D", "X", "false"}, {"D", "Y", "true"}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)
	assert.Equal(t, []string{"X"}, inv.names())
}

func TestEngine_DecisionWithoutMatchingBranchEndsPath(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	decision := node("D", agentflow.NodeKindDecision)
	decision.ConditionExpr = "missing_var"

	// only a true slot exists and the condition is false
	taskID := seed(t, s,
		[]agentflow.Node{decision, skill("B")},
		[][3]string{{"D", "B", ""}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)
	assert.Empty(t, inv.names())
}

func TestEngine_DecisionReadsPreviousDecision(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	first := node("D1", agentflow.NodeKindDecision)
	first.ConditionExpr = "topic == go"
	second := node("D2", agentflow.NodeKindDecision)
	second.ConditionExpr = "node_D1_output == true"

	taskID := seed(t, s,
		[]agentflow.Node{first, second, skill("B"), skill("C")},
		[][3]string{{"D1", "D2", "true"}, {"D2", "B", "true"}, {"D2", "C", "false"}},
	)

	_, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, inv.names())
}

func TestEngine_CycleRejectedWithoutExecution(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s,
		[]agentflow.Node{skill("A"), skill("B")},
		[][3]string{{"A", "B", ""}, {"B", "A", ""}},
	)
	task, err := s.GetTask(context.Background(), taskID)
	require.NoError(t, err)

	report, err := eng.ValidateWorkflow(context.Background(), task.WorkflowID)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, agentflow.IsValidationError(err))
	assert.ErrorIs(t, err, agentflow.ErrCycleDetected)
	assert.Contains(t, err.Error(), "cycle detected")

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.Error(t, err)
	assert.Nil(t, exec)
	assert.True(t, agentflow.IsValidationError(err))

	execs, err := eng.ListExecutions(context.Background(), agentflow.ExecutionFilter{TaskID: taskID})
	require.NoError(t, err)
	assert.Empty(t, execs)
	assert.Empty(t, inv.names())

	task, err = s.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.TaskStatusPending, task.Status)
}

func TestEngine_ParallelBranchFailure(t *testing.T) {
	inv := newScriptedInvoker().fail("B", "lint failed")
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s,
		[]agentflow.Node{node("G", agentflow.NodeKindParallelGateway), skill("B"), skill("C"), skill("D")},
		[][3]string{{"G", "B", ""}, {"G", "C", ""}, {"B", "D", ""}, {"C", "D", ""}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err, "walk failures are recorded, not returned")
	assert.Equal(t, agentflow.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "parallel gateway G failed")
	assert.Contains(t, exec.ErrorMessage, "lint failed")

	rows := nodeRows(t, eng, exec.ID)
	assert.Empty(t, rowsFor(rows, "D"))

	failed := rowsFor(rows, "B")
	require.Len(t, failed, 1)
	assert.Equal(t, agentflow.NodeExecutionStatusFailed, failed[0].Status)
	assert.Equal(t, "lint failed", failed[0].ErrorMessage)

	task, err := s.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.TaskStatusFailed, task.Status)
}

func TestEngine_ParallelGatewayJoinsBeforeSuccessors(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s,
		[]agentflow.Node{
			skill("start"),
			node("G", agentflow.NodeKindParallelGateway),
			skill("B"), skill("C"), skill("E"),
			node("J", agentflow.NodeKindParallelJoin),
			skill("D"),
		},
		[][3]string{
			{"start", "G", ""},
			{"G", "B", ""}, {"G", "C", ""}, {"G", "E", ""},
			{"B", "J", ""}, {"C", "J", ""}, {"E", "J", ""},
			{"J", "D", ""},
		},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)

	names := inv.names()
	require.Len(t, names, 5)
	assert.Equal(t, "start", names[0])
	assert.ElementsMatch(t, []string{"B", "C", "E"}, names[1:4])
	assert.Equal(t, "D", names[4], "join successor runs once, after every branch")

	rows := nodeRows(t, eng, exec.ID)
	assert.Len(t, rowsFor(rows, "D"), 1)
	assert.Empty(t, rowsFor(rows, "J"))
}

func TestEngine_ParallelJoinWaitsForAllPredecessors(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	// fan-out without a gateway: the join must hold D until both B and C ran
	taskID := seed(t, s,
		[]agentflow.Node{skill("A"), skill("B"), skill("C"), node("J", agentflow.NodeKindParallelJoin), skill("D")},
		[][3]string{{"A", "B", ""}, {"A", "C", ""}, {"B", "J", ""}, {"C", "J", ""}, {"J", "D", ""}},
	)

	_, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, inv.names())
}

func TestEngine_PlainMergeRunsOnFirstArrival(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s,
		[]agentflow.Node{skill("A"), skill("B"), skill("C"), skill("D")},
		[][3]string{{"A", "B", ""}, {"A", "C", ""}, {"B", "D", ""}, {"C", "D", ""}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "D", "C"}, inv.names())
	assert.Len(t, rowsFor(nodeRows(t, eng, exec.ID), "D"), 1, "a node runs at most once outside loops")
}

func TestEngine_BranchWritesMergedAfterJoin(t *testing.T) {
	inv := newScriptedInvoker().
		vars("B", map[string]any{"left": "yes"}).
		vars("C", map[string]any{"right": "yes"})
	eng, s := createTestEngine(t, inv)

	checkLeft := node("L", agentflow.NodeKindDecision)
	checkLeft.ConditionExpr = "left == yes"
	checkRight := node("R", agentflow.NodeKindDecision)
	checkRight.ConditionExpr = "right == yes"

	taskID := seed(t, s,
		[]agentflow.Node{
			node("G", agentflow.NodeKindParallelGateway),
			skill("B"), skill("C"),
			node("J", agentflow.NodeKindParallelJoin),
			checkLeft, checkRight, skill("done"),
		},
		[][3]string{
			{"G", "B", ""}, {"G", "C", ""},
			{"B", "J", ""}, {"C", "J", ""},
			{"J", "L", ""}, {"L", "R", "true"}, {"R", "done", "true"},
		},
	)

	_, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Contains(t, inv.names(), "done")
}

func TestEngine_ParallelBranchesRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	blockUntilBoth := func(int) (*agentflow.InvocationResult, error) {
		started.Done()
		select {
		case <-release:
		case <-time.After(5 * time.Second):
			return nil, errors.New("branches did not overlap")
		}
		return &agentflow.InvocationResult{Success: true}, nil
	}
	inv := newScriptedInvoker().on("B", blockUntilBoth).on("C", blockUntilBoth)
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s,
		[]agentflow.Node{node("G", agentflow.NodeKindParallelGateway), skill("B"), skill("C")},
		[][3]string{{"G", "B", ""}, {"G", "C", ""}},
	)

	go func() {
		started.Wait()
		close(release)
	}()

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)
}

func TestEngine_MaxParallelBranches(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	track := func(int) (*agentflow.InvocationResult, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return &agentflow.InvocationResult{Success: true}, nil
	}

	inv := newScriptedInvoker().on("B", track).on("C", track).on("D", track)
	cfg := agentflow.DefaultEngineConfig
	cfg.MaxParallelBranches = 1
	eng, s := createTestEngine(t, inv, WithConfig(cfg))

	taskID := seed(t, s,
		[]agentflow.Node{node("G", agentflow.NodeKindParallelGateway), skill("B"), skill("C"), skill("D")},
		[][3]string{{"G", "B", ""}, {"G", "C", ""}, {"G", "D", ""}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)
	assert.Equal(t, 1, peak)
}

func TestEngine_GatewayBranchWithControlFlowHead(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	decision := node("D", agentflow.NodeKindDecision)
	decision.ConditionExpr = "topic == go"

	taskID := seed(t, s,
		[]agentflow.Node{node("G", agentflow.NodeKindParallelGateway), decision, skill("yes"), skill("no"), skill("C")},
		[][3]string{{"G", "D", ""}, {"G", "C", ""}, {"D", "yes", "true"}, {"D", "no", "false"}},
	)

	_, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"yes", "C"}, inv.names())
}

// joinBehindDecisions builds G -> D1 -> slow -> J and G -> D2 -> fast -> J,
// J -> after. Both branches walk their own subgraph from a decision head.
func joinBehindDecisions(t *testing.T, s *store.MemoryStore) string {
	t.Helper()
	return seed(t, s,
		[]agentflow.Node{
			node("G", agentflow.NodeKindParallelGateway),
			node("D1", agentflow.NodeKindDecision), node("D2", agentflow.NodeKindDecision),
			skill("slow"), skill("fast"),
			node("J", agentflow.NodeKindParallelJoin),
			skill("after"),
		},
		[][3]string{
			{"G", "D1", ""}, {"G", "D2", ""},
			{"D1", "slow", ""}, {"D2", "fast", ""},
			{"slow", "J", ""}, {"fast", "J", ""},
			{"J", "after", ""},
		},
	)
}

func sleepThen(d time.Duration, success bool) func(int) (*agentflow.InvocationResult, error) {
	return func(int) (*agentflow.InvocationResult, error) {
		time.Sleep(d)
		if !success {
			return &agentflow.InvocationResult{Success: false, Error: "slow branch broke"}, nil
		}
		return &agentflow.InvocationResult{Success: true}, nil
	}
}

func TestEngine_ParallelJoinHoldsWhileBranchInFlight(t *testing.T) {
	inv := newScriptedInvoker().
		on("fast", sleepThen(20*time.Millisecond, true)).
		on("slow", sleepThen(150*time.Millisecond, false))
	eng, s := createTestEngine(t, inv)
	taskID := joinBehindDecisions(t, s)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusFailed, exec.Status)
	assert.ElementsMatch(t, []string{"fast", "slow"}, inv.names())

	rows := nodeRows(t, eng, exec.ID)
	assert.Empty(t, rowsFor(rows, "after"), "nothing past the join runs when a predecessor fails")
	slow := rowsFor(rows, "slow")
	require.Len(t, slow, 1)
	assert.Equal(t, agentflow.NodeExecutionStatusFailed, slow[0].Status)
}

func TestEngine_ParallelJoinReleasedByLastPredecessor(t *testing.T) {
	inv := newScriptedInvoker().
		on("fast", sleepThen(20*time.Millisecond, true)).
		on("slow", sleepThen(100*time.Millisecond, true))
	eng, s := createTestEngine(t, inv)
	taskID := joinBehindDecisions(t, s)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)
	assert.Equal(t, []string{"fast", "slow", "after"}, inv.names())
	assert.Len(t, rowsFor(nodeRows(t, eng, exec.ID), "after"), 1)
}

func TestEngine_ParallelJoinReleasedByDecisionElsewhere(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	// D routes away from J, but finishing D still completes J's barrier
	decision := node("D", agentflow.NodeKindDecision)
	decision.ConditionExpr = "topic == rust"

	taskID := seed(t, s,
		[]agentflow.Node{skill("A"), decision, skill("other"), node("J", agentflow.NodeKindParallelJoin), skill("after")},
		[][3]string{
			{"A", "J", ""}, {"A", "D", ""},
			{"D", "J", "true"}, {"D", "other", "false"},
			{"J", "after", ""},
		},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)
	assert.ElementsMatch(t, []string{"A", "other", "after"}, inv.names())
}

func TestEngine_FailFast(t *testing.T) {
	inv := newScriptedInvoker().fail("B", "exit status 2")
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s,
		[]agentflow.Node{skill("A"), skill("B"), skill("C")},
		[][3]string{{"A", "B", ""}, {"B", "C", ""}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "node B")
	assert.Equal(t, []string{"A", "B"}, inv.names())

	rows := nodeRows(t, eng, exec.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, agentflow.NodeExecutionStatusSucceeded, rows[0].Status)
	assert.Equal(t, agentflow.NodeExecutionStatusFailed, rows[1].Status)
	assert.Equal(t, "exit status 2", rows[1].ErrorMessage)
}

func TestEngine_InvokerErrorFailsNode(t *testing.T) {
	inv := newScriptedInvoker().on("A", func(int) (*agentflow.InvocationResult, error) {
		return nil, errors.New("connection refused")
	})
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s, []agentflow.Node{skill("A")}, nil)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, agentflow.ErrCodeExecutionFailed)

	rows := nodeRows(t, eng, exec.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, "connection refused", rows[0].ErrorMessage)
}

func TestEngine_UnknownNodeType(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	bad := agentflow.Node{ID: "A", Config: agentflow.NodeConfig{NodeType: "robot", Name: "A"}}
	taskID := seed(t, s, []agentflow.Node{bad}, nil)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "unknown node_type")
	assert.Empty(t, inv.names())

	rows := nodeRows(t, eng, exec.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, agentflow.NodeExecutionStatusFailed, rows[0].Status)
}

func TestEngine_HandlerPanicIsContained(t *testing.T) {
	inv := newScriptedInvoker().on("A", func(int) (*agentflow.InvocationResult, error) {
		panic("nil map write")
	})
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s, []agentflow.Node{skill("A"), skill("B")}, [][3]string{{"A", "B", ""}})

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "handler panicked")
	assert.Equal(t, []string{"A"}, inv.names())
}

func TestEngine_HandlerRouting(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	nodes := []agentflow.Node{
		{ID: "s", Config: agentflow.NodeConfig{NodeType: "skill", Name: "lint", Args: "--fix", Prompt: "ignored"}},
		{ID: "a", Config: agentflow.NodeConfig{NodeType: "Agent", Name: "writer", Prompt: "draft it", TimeoutSeconds: 7}},
		{ID: "t", Config: agentflow.NodeConfig{NodeType: "team", Name: "reviewers", Prompt: "review it"}},
	}
	taskID := seed(t, s, nodes, [][3]string{{"s", "a", ""}, {"a", "t", ""}})

	_, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)

	require.Len(t, inv.calls, 3)
	assert.Equal(t, invocation{handler: agentflow.HandlerSkill, name: "lint", input: "--fix", timeout: 5 * time.Minute}, inv.calls[0])
	assert.Equal(t, invocation{handler: agentflow.HandlerAgent, name: "writer", input: "draft it", timeout: 7 * time.Second}, inv.calls[1])
	assert.Equal(t, invocation{handler: agentflow.HandlerTeam, name: "reviewers", input: "review it", timeout: 5 * time.Minute}, inv.calls[2])
}

func TestEngine_LoopDefaultBound(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s,
		[]agentflow.Node{node("L", agentflow.NodeKindLoopStart), skill("body"), node("E", agentflow.NodeKindLoopEnd), skill("after")},
		[][3]string{{"L", "body", ""}, {"body", "E", ""}, {"E", "after", ""}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)

	rows := nodeRows(t, eng, exec.ID)
	body := rowsFor(rows, "body")
	require.Len(t, body, agentflow.DefaultMaxIterations)
	for i, r := range body {
		require.NotNil(t, r.Iteration)
		assert.Equal(t, i, *r.Iteration)
	}
	assert.Len(t, rowsFor(rows, "after"), 1)
	assert.Equal(t, "after", rows[len(rows)-1].NodeID)
}

func TestEngine_LoopConditionAndMaxIterations(t *testing.T) {
	tests := []struct {
		name      string
		max       *int
		condition string
		want      int
	}{
		{name: "explicit bound", max: agentflow.ToPtr(3), want: 3},
		{name: "condition stops early", max: agentflow.ToPtr(5), condition: "loop_iteration < 2", want: 2},
		{name: "bound stops before condition", max: agentflow.ToPtr(2), condition: "loop_iteration < 8", want: 2},
		{name: "false from the start", condition: "loop_iteration > 100", want: 0},
		{name: "zero bound", max: agentflow.ToPtr(0), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newScriptedInvoker()
			eng, s := createTestEngine(t, inv)

			loop := node("L", agentflow.NodeKindLoopStart)
			loop.MaxIterations = tt.max
			loop.LoopCondition = tt.condition

			taskID := seed(t, s,
				[]agentflow.Node{loop, skill("body"), node("E", agentflow.NodeKindLoopEnd), skill("after")},
				[][3]string{{"L", "body", ""}, {"L", "E", ""}, {"E", "after", ""}},
			)

			exec, err := eng.ExecuteTask(context.Background(), taskID)
			require.NoError(t, err)
			assert.Equal(t, agentflow.ExecutionStatusSucceeded, exec.Status)

			rows := nodeRows(t, eng, exec.ID)
			assert.Len(t, rowsFor(rows, "body"), tt.want)
			assert.Len(t, rowsFor(rows, "after"), 1)
		})
	}
}

func TestEngine_LoopConditionSeesBodyVariables(t *testing.T) {
	inv := newScriptedInvoker().on("poll", func(call int) (*agentflow.InvocationResult, error) {
		state := "pending"
		if call == 2 {
			state = "ready"
		}
		return &agentflow.InvocationResult{Success: true, Variables: map[string]any{"state": state}}, nil
	})
	eng, s := createTestEngine(t, inv)

	loop := node("L", agentflow.NodeKindLoopStart)
	loop.LoopCondition = "state != ready"

	taskID := seed(t, s,
		[]agentflow.Node{loop, skill("poll"), node("E", agentflow.NodeKindLoopEnd)},
		[][3]string{{"L", "poll", ""}, {"poll", "E", ""}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Len(t, rowsFor(nodeRows(t, eng, exec.ID), "poll"), 3)
}

func TestEngine_LoopBodyFailureStopsRun(t *testing.T) {
	inv := newScriptedInvoker().on("body", func(call int) (*agentflow.InvocationResult, error) {
		if call == 1 {
			return &agentflow.InvocationResult{Success: false, Error: "flaky"}, nil
		}
		return &agentflow.InvocationResult{Success: true}, nil
	})
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s,
		[]agentflow.Node{node("L", agentflow.NodeKindLoopStart), skill("body"), node("E", agentflow.NodeKindLoopEnd), skill("after")},
		[][3]string{{"L", "body", ""}, {"L", "E", ""}, {"E", "after", ""}},
	)

	exec, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusFailed, exec.Status)

	rows := nodeRows(t, eng, exec.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, *rows[1].Iteration)
	assert.Equal(t, agentflow.NodeExecutionStatusFailed, rows[1].Status)
	assert.Empty(t, rowsFor(rows, "after"))
}

func TestEngine_LoopSkipsNonTaskBodyNodes(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	loop := node("L", agentflow.NodeKindLoopStart)
	loop.MaxIterations = agentflow.ToPtr(2)
	inner := node("D", agentflow.NodeKindDecision)
	inner.ConditionExpr = "topic == go"

	taskID := seed(t, s,
		[]agentflow.Node{loop, skill("work"), inner, node("E", agentflow.NodeKindLoopEnd), skill("after")},
		[][3]string{{"L", "work", ""}, {"L", "D", ""}, {"L", "E", ""}, {"D", "after", ""}, {"E", "after", ""}},
	)

	_, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "work", "after"}, inv.names())
}

func TestEngine_CancelledBetweenNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := newScriptedInvoker().on("A", func(int) (*agentflow.InvocationResult, error) {
		cancel()
		return &agentflow.InvocationResult{Success: true}, nil
	})
	eng, s := createTestEngine(t, inv)

	taskID := seed(t, s, []agentflow.Node{skill("A"), skill("B")}, [][3]string{{"A", "B", ""}})

	exec, err := eng.ExecuteTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "context canceled")
	assert.Equal(t, []string{"A"}, inv.names())

	stored, err := eng.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, agentflow.ExecutionStatusFailed, stored.Status)
}

func TestEngine_LookupErrors(t *testing.T) {
	eng, s := createTestEngine(t, newScriptedInvoker())
	ctx := context.Background()

	require.NoError(t, s.SaveTask(ctx, &agentflow.Task{ID: "unassigned", Status: agentflow.TaskStatusPending}))
	require.NoError(t, s.SaveTask(ctx, &agentflow.Task{ID: "orphan", WorkflowID: "gone", Status: agentflow.TaskStatusPending}))

	tests := []struct {
		name   string
		taskID string
		want   error
	}{
		{name: "task missing", taskID: "nope", want: agentflow.ErrTaskNotFound},
		{name: "no workflow assigned", taskID: "unassigned", want: agentflow.ErrWorkflowNotAssigned},
		{name: "workflow missing", taskID: "orphan", want: agentflow.ErrWorkflowNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, err := eng.ExecuteTask(ctx, tt.taskID)
			require.Error(t, err)
			assert.Nil(t, exec)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, agentflow.IsNotFoundError(err))
			assert.False(t, agentflow.IsValidationError(err))
		})
	}

	_, err := eng.ValidateWorkflow(ctx, "gone")
	assert.ErrorIs(t, err, agentflow.ErrWorkflowNotFound)

	execs, err := eng.ListExecutions(ctx, agentflow.ExecutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestEngine_ValidateWorkflow(t *testing.T) {
	eng, s := createTestEngine(t, newScriptedInvoker())
	ctx := context.Background()

	taskID := seed(t, s,
		[]agentflow.Node{skill("A"), skill("B"), skill("lonely")},
		[][3]string{{"A", "B", ""}},
	)
	task, err := s.GetTask(ctx, taskID)
	require.NoError(t, err)

	report, err := eng.ValidateWorkflow(ctx, task.WorkflowID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 3, report.NodeCount)
	assert.Equal(t, 1, report.EdgeCount)
	assert.Equal(t, []string{"A", "lonely", "B"}, report.TopologicalOrder)
	assert.Equal(t, []string{"lonely"}, report.IsolatedNodes)
}

func TestEngine_ValidateWorkflowRejects(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		wf    *agentflow.WorkflowGraph
		want  error
		match string
	}{
		{
			name:  "no nodes",
			wf:    agentflow.NewWorkflowGraph("empty", "empty"),
			match: "workflow has no nodes",
		},
		{
			name: "dangling edge",
			wf: &agentflow.WorkflowGraph{
				ID:    "dangling",
				Nodes: []agentflow.Node{skill("A")},
				Edges: []agentflow.Edge{{FromNodeID: "A", ToNodeID: "ghost"}},
			},
			want:  agentflow.ErrDanglingEdge,
			match: "ghost",
		},
		{
			name: "duplicate node",
			wf: &agentflow.WorkflowGraph{
				ID:    "dup",
				Nodes: []agentflow.Node{skill("A"), skill("A")},
			},
			want: agentflow.ErrDuplicateNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, s := createTestEngine(t, newScriptedInvoker())
			require.NoError(t, s.SaveWorkflow(ctx, tt.wf))

			_, err := eng.ValidateWorkflow(ctx, tt.wf.ID)
			require.Error(t, err)
			assert.True(t, agentflow.IsValidationError(err))
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.match != "" {
				assert.Contains(t, err.Error(), tt.match)
			}
		})
	}
}

func TestEngine_TaskInputsSeedContext(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)

	decision := node("D", agentflow.NodeKindDecision)
	decision.ConditionExpr = "task_id == task-TestEngine_TaskInputsSeedContext"

	taskID := seed(t, s,
		[]agentflow.Node{decision, skill("yes"), skill("no")},
		[][3]string{{"D", "yes", "true"}, {"D", "no", "false"}},
	)

	_, err := eng.ExecuteTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"yes"}, inv.names())
}

func TestEngine_ListExecutions(t *testing.T) {
	inv := newScriptedInvoker()
	eng, s := createTestEngine(t, inv)
	ctx := context.Background()

	taskID := seed(t, s, []agentflow.Node{skill("A")}, nil)

	first, err := eng.ExecuteTask(ctx, taskID)
	require.NoError(t, err)
	second, err := eng.ExecuteTask(ctx, taskID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	execs, err := eng.ListExecutions(ctx, agentflow.ExecutionFilter{TaskID: taskID})
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, second.ID, execs[0].ID)
}
