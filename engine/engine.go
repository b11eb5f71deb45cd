package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sicko7947/agentflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine validates workflow graphs and drives task executions through them
type Engine struct {
	store    agentflow.Store
	invoker  agentflow.Invoker
	logger   zerolog.Logger
	config   agentflow.EngineConfig
	metrics  *Metrics
	tracer   trace.Tracer
	handlers map[agentflow.HandlerType]handlerFunc
}

// EngineOption configures the engine
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the engine
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithConfig sets a custom configuration for the engine
func WithConfig(config agentflow.EngineConfig) EngineOption {
	return func(e *Engine) {
		e.config = config
	}
}

// WithMetrics enables Prometheus collectors
func WithMetrics(metrics *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithTracer sets the OpenTelemetry tracer used for execution and node spans
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewEngine creates a new engine with optional configuration.
// If no logger is provided, a console logger at Info level is used.
// If no config is provided, agentflow.DefaultEngineConfig is used.
func NewEngine(store agentflow.Store, invoker agentflow.Invoker, opts ...EngineOption) *Engine {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	eng := &Engine{
		store:    store,
		invoker:  invoker,
		logger:   defaultLogger,
		config:   agentflow.DefaultEngineConfig,
		tracer:   defaultTracer(),
		handlers: defaultHandlers(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	return eng
}

// ValidateWorkflow loads a stored workflow and checks its graph.
// A graph problem or an empty workflow is reported as *agentflow.WorkflowValidationError.
func (e *Engine) ValidateWorkflow(ctx context.Context, workflowID string) (*agentflow.ValidationReport, error) {
	wf, err := e.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	report, _, err := e.validate(wf)
	return report, err
}

// ExecuteTask runs the workflow assigned to a task. It returns an error only
// when no execution could be started: unknown task, task without workflow,
// unknown workflow, invalid graph or a failed insert. Once the execution
// exists, walk failures are recorded on it and the terminal record is returned.
func (e *Engine) ExecuteTask(ctx context.Context, taskID string) (*agentflow.Execution, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, agentflow.ErrNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, agentflow.ErrTaskNotFound)
		}
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	if task.WorkflowID == "" {
		return nil, fmt.Errorf("task %s: %w", taskID, agentflow.ErrWorkflowNotAssigned)
	}

	wf, err := e.loadWorkflow(ctx, task.WorkflowID)
	if err != nil {
		return nil, err
	}

	_, graph, err := e.validate(wf)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	exec := &agentflow.Execution{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		WorkflowID: wf.ID,
		Status:     agentflow.ExecutionStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	execLogger := agentflow.ExecutionLogger(e.logger, exec.ID, task.ID, wf.ID)

	ctx, span := e.startSpan(ctx, "agentflow.execute_task",
		attribute.String(AttrExecutionID, exec.ID),
		attribute.String(AttrTaskID, task.ID),
		attribute.String(AttrWorkflowID, wf.ID),
	)
	defer span.End()

	startTime := time.Now()
	exec.Status = agentflow.ExecutionStatusRunning
	exec.StartedAt = &startTime
	exec.UpdatedAt = startTime
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		agentflow.LogPersistenceError(execLogger, exec.ID, "update_execution_running", err)
	}
	if err := e.store.UpdateTaskStatus(ctx, task.ID, agentflow.TaskStatusRunning); err != nil {
		agentflow.LogPersistenceError(execLogger, exec.ID, "update_task_running", err)
	}

	agentflow.LogExecutionStarted(execLogger, exec.ID, task.ID, wf.ID)
	e.metrics.executionStarted()
	defer e.metrics.executionDone()

	rc := agentflow.NewRunContext(agentflow.TaskInputs(task, exec.ID))
	r := newRun(e, exec, graph, execLogger)
	walkErr := r.walk(ctx, rc, graph.Roots())

	if walkErr != nil {
		setSpanError(span, walkErr)
		return e.failExecution(ctx, execLogger, exec, walkErr)
	}
	return e.completeExecution(ctx, execLogger, exec)
}

// completeExecution marks the execution succeeded and the task completed
func (e *Engine) completeExecution(ctx context.Context, logger zerolog.Logger, exec *agentflow.Execution) (*agentflow.Execution, error) {
	finishedAt := time.Now()
	exec.Status = agentflow.ExecutionStatusSucceeded
	exec.FinishedAt = &finishedAt
	exec.UpdatedAt = finishedAt

	e.metrics.executionFinished(exec.Status.String())

	if err := e.store.UpdateTaskStatus(ctx, exec.TaskID, agentflow.TaskStatusCompleted); err != nil {
		agentflow.LogPersistenceError(logger, exec.ID, "update_task_completed", err)
	}
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		agentflow.LogPersistenceError(logger, exec.ID, "update_execution_succeeded", err)
		return exec, fmt.Errorf("failed to update execution on completion: %w", err)
	}

	agentflow.LogExecutionCompleted(logger, exec.ID, finishedAt.Sub(*exec.StartedAt))
	return exec, nil
}

// failExecution records the walk error on the execution and fails the task.
// The walk error itself is not returned.
func (e *Engine) failExecution(ctx context.Context, logger zerolog.Logger, exec *agentflow.Execution, walkErr error) (*agentflow.Execution, error) {
	finishedAt := time.Now()
	exec.Status = agentflow.ExecutionStatusFailed
	exec.FinishedAt = &finishedAt
	exec.UpdatedAt = finishedAt
	exec.ErrorMessage = walkErr.Error()

	e.metrics.executionFinished(exec.Status.String())
	agentflow.LogExecutionFailed(logger, exec.ID, walkErr)

	// the caller's context may be the reason the walk stopped
	persistCtx := context.WithoutCancel(ctx)

	if err := e.store.UpdateTaskStatus(persistCtx, exec.TaskID, agentflow.TaskStatusFailed); err != nil {
		agentflow.LogPersistenceError(logger, exec.ID, "update_task_failed", err)
	}
	if err := e.store.UpdateExecution(persistCtx, exec); err != nil {
		agentflow.LogPersistenceError(logger, exec.ID, "update_execution_failed", err)
		return exec, fmt.Errorf("failed to update execution on failure: %w", err)
	}
	return exec, nil
}

// validate checks a loaded workflow and returns its index for the walk
func (e *Engine) validate(wf *agentflow.WorkflowGraph) (*agentflow.ValidationReport, *agentflow.GraphIndex, error) {
	if len(wf.Nodes) == 0 {
		e.metrics.validationFailed()
		return nil, nil, agentflow.NewWorkflowValidationError(wf.ID, "workflow has no nodes", nil)
	}

	graph, err := agentflow.NewGraphIndex(wf.Nodes, wf.Edges)
	if err != nil {
		e.metrics.validationFailed()
		return nil, nil, agentflow.NewWorkflowValidationError(wf.ID, "", err)
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		e.metrics.validationFailed()
		return nil, nil, agentflow.NewWorkflowValidationError(wf.ID, "", err)
	}

	isolated := graph.IsolatedNodes()
	if len(isolated) > 0 {
		agentflow.LogIsolatedNodes(e.logger, wf.ID, isolated)
	}

	return &agentflow.ValidationReport{
		WorkflowID:       wf.ID,
		Valid:            true,
		NodeCount:        len(wf.Nodes),
		EdgeCount:        len(wf.Edges),
		TopologicalOrder: order,
		IsolatedNodes:    isolated,
	}, graph, nil
}

func (e *Engine) loadWorkflow(ctx context.Context, workflowID string) (*agentflow.WorkflowGraph, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, agentflow.ErrNotFound) {
			return nil, fmt.Errorf("workflow %s: %w", workflowID, agentflow.ErrWorkflowNotFound)
		}
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	return wf, nil
}

// GetExecution retrieves an execution record
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*agentflow.Execution, error) {
	return e.store.GetExecution(ctx, executionID)
}

// ListNodeExecutions retrieves the node executions of a run in dispatch order
func (e *Engine) ListNodeExecutions(ctx context.Context, executionID string) ([]*agentflow.NodeExecution, error) {
	return e.store.ListNodeExecutions(ctx, executionID)
}

// ListExecutions lists executions with filtering
func (e *Engine) ListExecutions(ctx context.Context, filter agentflow.ExecutionFilter) ([]*agentflow.Execution, error) {
	return e.store.ListExecutions(ctx, filter)
}
