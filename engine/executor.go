package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sicko7947/agentflow"
	"go.opentelemetry.io/otel/attribute"
)

// handlerFunc calls the collaborator method that serves one handler type
type handlerFunc func(ctx context.Context, inv agentflow.Invoker, node *agentflow.Node, timeout time.Duration) (*agentflow.InvocationResult, error)

func defaultHandlers() map[agentflow.HandlerType]handlerFunc {
	return map[agentflow.HandlerType]handlerFunc{
		agentflow.HandlerSkill: func(ctx context.Context, inv agentflow.Invoker, node *agentflow.Node, timeout time.Duration) (*agentflow.InvocationResult, error) {
			return inv.ExecuteSkill(ctx, node.Config.Name, node.Config.Args, timeout)
		},
		agentflow.HandlerAgent: func(ctx context.Context, inv agentflow.Invoker, node *agentflow.Node, timeout time.Duration) (*agentflow.InvocationResult, error) {
			return inv.ExecuteWithAgent(ctx, node.Config.Name, node.Config.Prompt, timeout)
		},
		agentflow.HandlerTeam: func(ctx context.Context, inv agentflow.Invoker, node *agentflow.Node, timeout time.Duration) (*agentflow.InvocationResult, error) {
			return inv.ExecuteWithTeam(ctx, node.Config.Name, node.Config.Prompt, timeout)
		},
	}
}

// dispatch runs one task node and records a NodeExecution for it.
// iteration is set for loop body dispatches.
func (r *run) dispatch(ctx context.Context, rc *agentflow.RunContext, node *agentflow.Node, iteration *int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("execution stopped before node %s: %w", node.ID, err)
	}

	e := r.engine
	handler, parseErr := agentflow.ParseHandlerType(node.Config.NodeType)

	startedAt := time.Now()
	nodeExec := &agentflow.NodeExecution{
		ID:          uuid.New().String(),
		ExecutionID: r.exec.ID,
		NodeID:      node.ID,
		Sequence:    r.nextSequence(),
		Iteration:   iteration,
		Status:      agentflow.NodeExecutionStatusRunning,
		Handler:     handler,
		StartedAt:   startedAt,
	}

	nodeLogger := agentflow.NodeLogger(r.logger, node)
	if iteration != nil {
		nodeLogger = nodeLogger.With().Int("iteration", *iteration).Logger()
	}

	if err := e.store.CreateNodeExecution(ctx, nodeExec); err != nil {
		agentflow.LogPersistenceError(nodeLogger, r.exec.ID, "create_node_execution", err)
		return fmt.Errorf("failed to create node execution for %s: %w", node.ID, err)
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrNodeID, node.ID),
		attribute.String(AttrNodeKind, node.EffectiveKind().String()),
		attribute.String(AttrHandler, handler.String()),
	}
	if iteration != nil {
		attrs = append(attrs, attribute.Int(AttrIteration, *iteration))
	}
	ctx, span := e.startSpan(ctx, "agentflow.dispatch_node", attrs...)
	defer span.End()

	agentflow.LogNodeStarted(nodeLogger, node.ID, handler, nodeExec.Sequence)

	var result *agentflow.InvocationResult
	var err error
	if parseErr != nil {
		err = parseErr
	} else {
		result, err = e.invoke(ctx, handler, node)
	}
	if err == nil && (result == nil || !result.Success) {
		err = invocationFailure(result)
	}

	finishedAt := time.Now()
	duration := finishedAt.Sub(startedAt)
	nodeExec.FinishedAt = &finishedAt
	nodeExec.DurationMs = duration.Milliseconds()

	if err != nil {
		nodeErr := agentflow.NewNodeExecutionError(node.ID, handler, err)
		if result != nil {
			nodeExec.Output = result.Output
		}
		nodeExec.Status = agentflow.NodeExecutionStatusFailed
		nodeExec.ErrorMessage = nodeErr.Message

		if uerr := e.store.UpdateNodeExecution(context.WithoutCancel(ctx), nodeExec); uerr != nil {
			agentflow.LogPersistenceError(nodeLogger, r.exec.ID, "update_node_execution_failed", uerr)
		}
		rc.SetNodeResult(node.ID, nodeExec.Output, nodeExec.Status)

		e.metrics.nodeFinished(handler.String(), nodeExec.Status.String(), duration.Seconds())
		setSpanError(span, nodeErr)
		agentflow.LogNodeFailed(nodeLogger, node.ID, nodeErr)
		return nodeErr
	}

	nodeExec.Status = agentflow.NodeExecutionStatusSucceeded
	nodeExec.Output = result.Output

	if err := e.store.UpdateNodeExecution(ctx, nodeExec); err != nil {
		agentflow.LogPersistenceError(nodeLogger, r.exec.ID, "update_node_execution_succeeded", err)
	}

	rc.SetAll(result.Variables)
	rc.SetNodeResult(node.ID, result.Output, nodeExec.Status)

	e.metrics.nodeFinished(handler.String(), nodeExec.Status.String(), duration.Seconds())
	agentflow.LogNodeCompleted(nodeLogger, node.ID, nodeExec.DurationMs)
	return nil
}

// invoke calls the handler for a node, turning a panic into an error
func (e *Engine) invoke(ctx context.Context, handler agentflow.HandlerType, node *agentflow.Node) (result *agentflow.InvocationResult, err error) {
	fn, ok := e.handlers[handler]
	if !ok {
		return nil, fmt.Errorf("no handler registered for node_type %q", handler)
	}
	if e.invoker == nil {
		return nil, errors.New("no invoker configured")
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("[%s] handler panicked: %v", agentflow.ErrCodePanic, rec)
			e.logger.Error().Interface("panic", rec).Str("node_id", node.ID).Msg("Handler panicked")
		}
	}()

	return fn(ctx, e.invoker, node, e.config.NodeTimeout(node))
}

func invocationFailure(result *agentflow.InvocationResult) error {
	if result == nil {
		return errors.New("invoker returned no result")
	}
	if result.Error != "" {
		return errors.New(result.Error)
	}
	return errors.New("work unit reported failure")
}
